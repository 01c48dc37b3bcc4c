package upload

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/measurekeeper/internal/common"
	"github.com/dmitrijs2005/measurekeeper/internal/logging"
	"github.com/dmitrijs2005/measurekeeper/internal/server/metadata"
	"github.com/dmitrijs2005/measurekeeper/internal/server/storage"
	"github.com/dmitrijs2005/measurekeeper/internal/server/wire"
	"golang.org/x/sync/semaphore"
)

// ChunkRequest carries one chunk of a resumable upload.
type ChunkRequest struct {
	// UploadID names the resumable upload attempt. Empty on the first
	// chunk makes the coordinator mint one.
	UploadID string

	Range   ContentRange
	Payload []byte

	// Metadata holds the identity tuple and device info. StorageName and
	// Length are assigned by the coordinator at finalization.
	Metadata metadata.UploadMetaData

	// FileType tags the stored object in the completed-upload descriptor.
	FileType string
}

// ChunkResult reports the session state after a successfully handled chunk.
type ChunkResult struct {
	UploadID    string
	State       State
	BytesStored int64
	// Remaining is the number of bytes still needed, the success signal
	// the inbound surface returns to the client.
	Remaining int64
	// DocumentID is set once the upload is finalized.
	DocumentID string
}

// Coordinator drives chunks through validation, the session state machine,
// durable storage and finalization. Chunk handling for one identifier is
// serialized by the session mutex; different identifiers proceed in
// parallel. Blocking storage and database calls run under a bounded
// semaphore with a per-chunk deadline.
type Coordinator struct {
	sessions *Store
	backend  storage.Backend
	repo     metadata.Repository
	handoff  chan<- []byte
	sem      *semaphore.Weighted
	timeout  time.Duration
	logger   logging.Logger
}

// NewCoordinator wires the coordinator to its collaborators. poolSize
// bounds concurrently executing blocking operations; chunkTimeout is the
// deadline for one chunk's blocking work.
func NewCoordinator(sessions *Store, backend storage.Backend, repo metadata.Repository,
	handoff chan<- []byte, poolSize int64, chunkTimeout time.Duration, logger logging.Logger) *Coordinator {
	return &Coordinator{
		sessions: sessions,
		backend:  backend,
		repo:     repo,
		handoff:  handoff,
		sem:      semaphore.NewWeighted(poolSize),
		timeout:  chunkTimeout,
		logger:   logger.With("module", "upload_coordinator"),
	}
}

// Sessions exposes the session store to the cleanup sweep.
func (c *Coordinator) Sessions() *Store {
	return c.sessions
}

// HandleChunk processes one chunk and, when it fills the declared total,
// runs finalization. Protocol violations surface as
// ErrContentRangeMismatch, transient backend trouble as ErrStorageFailure
// with the session unchanged, and a chunk for an identifier the cleanup
// sweep already removed as ErrSessionExpired unless it starts from zero.
// After a transiently failed finalization the session keeps all its bytes;
// a resubmission of the final chunk retries finalization alone.
func (c *Coordinator) HandleChunk(ctx context.Context, req *ChunkRequest) (*ChunkResult, error) {
	id := req.UploadID
	if id == "" {
		if req.Range.Start != 0 {
			return nil, fmt.Errorf("%w: no upload identifier", common.ErrSessionExpired)
		}
		minted, err := common.MakeRandHexString(16)
		if err != nil {
			return nil, fmt.Errorf("%w: mint identifier: %v", common.ErrStorageFailure, err)
		}
		id = minted
	}

	sess, err := c.acquire(id, req.Range)
	if err != nil {
		return nil, err
	}
	defer sess.unlock()

	// All bytes stored but finalization failed transiently: the resubmitted
	// final chunk is already durable, so skip the append and finalize again.
	if sess.BytesStored == sess.Total && replaysFinalChunk(req.Range, int64(len(req.Payload)), sess.Total) {
		sess.LastActivity = c.sessions.now()
		docID, err := c.finalize(ctx, sess, req)
		if err != nil {
			return nil, err
		}
		return &ChunkResult{
			UploadID:    id,
			State:       sess.State,
			BytesStored: sess.BytesStored,
			DocumentID:  docID,
		}, nil
	}

	if err := Validate(req.Range, int64(len(req.Payload)), sess.BytesStored, sess.Total); err != nil {
		return nil, err
	}

	n, err := c.append(ctx, id, req.Payload, sess.BytesStored)
	if err != nil {
		return nil, err
	}
	if err := sess.advance(n, c.sessions.now()); err != nil {
		return nil, err
	}

	res := &ChunkResult{
		UploadID:    id,
		State:       sess.State,
		BytesStored: sess.BytesStored,
		Remaining:   sess.Remaining(),
	}
	c.logger.Debug(ctx, "chunk stored", "upload_id", id, "bytes", sess.BytesStored, "total", sess.Total)

	if sess.BytesStored < sess.Total {
		return res, nil
	}

	docID, err := c.finalize(ctx, sess, req)
	if err != nil {
		return nil, err
	}
	res.State = sess.State
	res.Remaining = 0
	res.DocumentID = docID
	return res, nil
}

// replaysFinalChunk reports whether r resubmits the last chunk of an
// upload whose declared total is total.
func replaysFinalChunk(r ContentRange, payloadLen, total int64) bool {
	return r.Start >= 0 && r.End >= r.Start && r.Total == total &&
		r.End+1 == total && payloadLen == r.Len()
}

// acquire returns id's session with its mutex held, creating the session
// for a chunk starting at offset zero. It retries when the session is
// removed while waiting on the mutex, so a chunk racing the cleanup sweep
// restarts cleanly.
func (c *Coordinator) acquire(id string, r ContentRange) (*Session, error) {
	for {
		sess, ok := c.sessions.Get(id)
		if !ok {
			if r.Start != 0 {
				return nil, fmt.Errorf("%w: unknown upload %q, restart from offset 0", common.ErrSessionExpired, id)
			}
			var err error
			sess, err = c.sessions.Create(id, r.Total)
			if err != nil {
				return nil, err
			}
		}
		sess.lock()
		if !sess.removed {
			return sess, nil
		}
		sess.unlock()
	}
}

// append runs the blocking backend write under the worker pool bound and
// the per-chunk deadline. A timed-out append is a transient storage
// failure: the session stays unchanged and the client resubmits the chunk.
func (c *Coordinator) append(ctx context.Context, id string, payload []byte, offset int64) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if err := c.sem.Acquire(ctx, 1); err != nil {
		return 0, fmt.Errorf("%w: waiting for storage executor: %v", common.ErrStorageFailure, err)
	}
	defer c.sem.Release(1)

	n, err := c.backend.Store(ctx, id, payload, offset)
	if err != nil {
		return 0, err
	}
	if n != int64(len(payload)) {
		return 0, fmt.Errorf("%w: backend persisted %d of %d bytes", common.ErrStorageFailure, n, len(payload))
	}
	return n, nil
}

// finalize runs the completion sequence while the session mutex is held,
// so no new chunk is admitted to a session already in finalization: dedup
// check, storage completion, metadata write, descriptor handoff.
func (c *Coordinator) finalize(ctx context.Context, sess *Session, req *ChunkRequest) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if err := c.sem.Acquire(ctx, 1); err != nil {
		return "", fmt.Errorf("%w: waiting for storage executor: %v", common.ErrStorageFailure, err)
	}
	defer c.sem.Release(1)

	md := req.Metadata

	var exists bool
	var err error
	if md.AttachmentID == "" {
		exists, err = c.repo.ExistsMeasurement(ctx, md.DeviceID, md.MeasurementID)
	} else {
		exists, err = c.repo.ExistsAttachment(ctx, md.DeviceID, md.MeasurementID, md.AttachmentID)
	}
	if err != nil {
		// Includes ErrCorruptedMetadataState: fatal, surfaced unretried.
		return "", err
	}
	if exists {
		c.failDuplicate(ctx, sess)
		return "", fmt.Errorf("%w: device %s measurement %s",
			common.ErrDuplicateUpload, md.DeviceID, md.MeasurementID)
	}

	// A retry after a failed metadata write reuses the object completed
	// the first time around.
	name := sess.objectName
	if name == "" {
		name, err = c.backend.Complete(ctx, sess.ID)
		if err != nil {
			return "", err
		}
		sess.objectName = name
	}

	md.StorageName = name
	md.Length = sess.Total
	docID, err := c.repo.Store(ctx, &md)
	if err != nil {
		if errors.Is(err, common.ErrDuplicateUpload) {
			// A concurrent finalization won the uniqueness constraint
			// between our pre-check and write. The completed object has
			// no metadata pointing at it.
			c.logger.Error(ctx, "duplicate won constraint race, orphaned object remains",
				"upload_id", sess.ID, "object", name)
			sess.State = StateFailed
			c.sessions.Remove(sess.ID)
			return "", err
		}
		return "", fmt.Errorf("%w: store metadata: %v", common.ErrStorageFailure, err)
	}

	desc := wire.Descriptor{
		DeviceID:      md.DeviceID,
		MeasurementID: md.MeasurementID,
		DeviceType:    md.DeviceType,
		OSVersion:     md.OSVersion,
		Files:         []wire.FileRef{{Path: name, FileType: req.FileType}},
	}

	select {
	case c.handoff <- wire.Encode(desc):
	case <-ctx.Done():
		// Metadata is durable either way; only the asynchronous
		// post-processing notification is lost.
		c.logger.Error(ctx, "descriptor handoff dropped", "upload_id", sess.ID, "document_id", docID)
	}

	sess.State = StateComplete
	c.sessions.Remove(sess.ID)
	c.logger.Info(ctx, "upload finalized",
		"upload_id", sess.ID, "document_id", docID, "object", name, "bytes", sess.Total)
	return docID, nil
}

// failDuplicate discards the just-stored bytes and removes the session.
func (c *Coordinator) failDuplicate(ctx context.Context, sess *Session) {
	if err := c.backend.Discard(ctx, sess.ID); err != nil {
		c.logger.Error(ctx, "discarding duplicate upload failed", "upload_id", sess.ID, "error", err.Error())
	}
	sess.State = StateFailed
	c.sessions.Remove(sess.ID)
}

// Sweep is the periodic cleanup trigger: it removes stale staged uploads
// from the durable backend and expired sessions from the store. It returns
// the number of staged uploads and sessions removed.
func (c *Coordinator) Sweep(ctx context.Context, age time.Duration) (int, int, error) {
	staged, err := c.backend.Cleanup(ctx, age)
	if err != nil {
		return 0, 0, err
	}
	expired := c.sessions.RemoveExpired(age)
	if len(expired) > 0 {
		c.logger.Info(ctx, "expired sessions removed", "count", len(expired))
	}
	return staged, len(expired), nil
}
