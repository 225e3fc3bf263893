package chat

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/suPer8Hu/notes-ai-platform/internal/common"
	"github.com/suPer8Hu/notes-ai-platform/internal/lock"
	"github.com/suPer8Hu/notes-ai-platform/internal/logger"
	"github.com/suPer8Hu/notes-ai-platform/internal/syncqueue"
	"gorm.io/gorm"
)

// EntityType is the sync family name for chat sessions.
const EntityType = "chat_sessions"

const (
	defaultHistoryLimit = 30
	maxHistoryLimit     = 1000
)

type Service struct {
	repo              *Repo
	locks             *lock.Lock
	merger            *Merger
	notifier          syncqueue.Notifier
	contextWindowSize int
	historyLimit      int
}

func NewService(repo *Repo, locks *lock.Lock, notifier syncqueue.Notifier, contextWindowSize, historyLimit int) *Service {
	if contextWindowSize <= 0 || contextWindowSize > 100 {
		contextWindowSize = 20
	}
	if historyLimit <= 0 || historyLimit > maxHistoryLimit {
		historyLimit = defaultHistoryLimit
	}
	if notifier == nil {
		notifier = syncqueue.NopNotifier{}
	}
	return &Service{
		repo:              repo,
		locks:             locks,
		merger:            NewMerger(),
		notifier:          notifier,
		contextWindowSize: contextWindowSize,
		historyLimit:      historyLimit,
	}
}

func (s *Service) CreateSession(ctx context.Context, userID uint64, name string, historyLimit int) (*Session, error) {
	if historyLimit <= 0 || historyLimit > maxHistoryLimit {
		historyLimit = s.historyLimit
	}
	sid, err := common.NewULID()
	if err != nil {
		return nil, err
	}

	session := &Session{
		SessionID:    sid,
		UserID:       userID,
		Name:         name,
		HistoryLimit: historyLimit,
		Thread:       Thread{},
	}
	if err := s.repo.CreateSession(ctx, session); err != nil {
		return nil, err
	}

	s.notify(ctx, userID, syncqueue.OpCreate, sid)
	return session, nil
}

// owned loads a session and checks that userID owns it.
func (s *Service) owned(ctx context.Context, userID uint64, sessionID string) (*Session, error) {
	sess, err := s.repo.GetSessionBySessionID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}
	if sess.UserID != userID {
		return nil, ErrForbidden
	}
	return sess, nil
}

func (s *Service) GetSession(ctx context.Context, userID uint64, sessionID string) (*Session, error) {
	return s.owned(ctx, userID, sessionID)
}

func (s *Service) ListSessions(ctx context.Context, userID uint64, limit int) ([]Session, error) {
	return s.repo.ListSessions(ctx, userID, limit)
}

type SessionPatch struct {
	Name         *string
	HistoryLimit *int
}

func (s *Service) UpdateSession(ctx context.Context, userID uint64, sessionID string, patch SessionPatch) (*Session, error) {
	if patch.HistoryLimit != nil && (*patch.HistoryLimit <= 0 || *patch.HistoryLimit > maxHistoryLimit) {
		return nil, &ValidationError{Violations: []Violation{{
			Index: -1, Field: "history_limit", Rule: "range",
			Message: fmt.Sprintf("history_limit must be between 1 and %d", maxHistoryLimit),
		}}}
	}

	sess, err := lock.Run(ctx, s.locks, sessionID, func(ctx context.Context) (*Session, error) {
		sess, err := s.owned(ctx, userID, sessionID)
		if err != nil {
			return nil, err
		}
		now := time.Now().UTC()
		if err := s.repo.UpdateMeta(ctx, sessionID, patch.Name, patch.HistoryLimit, now); err != nil {
			return nil, persistErr(err)
		}
		if patch.Name != nil {
			sess.Name = *patch.Name
		}
		if patch.HistoryLimit != nil {
			sess.HistoryLimit = *patch.HistoryLimit
		}
		sess.UpdatedAt = now
		return sess, nil
	}, lock.WithName("update_session"))
	if err != nil {
		return nil, err
	}

	op := syncqueue.OpUpdate
	if patch.Name != nil {
		op = syncqueue.OpRename
	}
	s.notify(ctx, userID, op, sessionID)
	return sess, nil
}

func (s *Service) DeleteSession(ctx context.Context, userID uint64, sessionID string) error {
	err := s.locks.RunExclusive(ctx, sessionID, func(ctx context.Context) error {
		if _, err := s.owned(ctx, userID, sessionID); err != nil {
			return err
		}
		if err := s.repo.DeleteSession(ctx, sessionID); err != nil {
			return persistErr(err)
		}
		return nil
	}, lock.WithName("delete_session"))
	if err != nil {
		return err
	}

	s.notify(ctx, userID, syncqueue.OpDelete, sessionID)
	return nil
}

// AppendResult is what a batch write reports back.
type AppendResult struct {
	Applied            bool      `json:"applied"`
	Messages           []Message `json:"messages"`
	DuplicatesFiltered int       `json:"duplicatesFiltered"`
	OperationID        string    `json:"operation_id"`
	RelanceIndex       int       `json:"relance_index"`
	Session            *Session  `json:"session"`
}

// AppendBatch merges a batch into the session thread under the session's
// lock and persists the result with a single write.
func (s *Service) AppendBatch(ctx context.Context, userID uint64, sessionID string, batch []CandidateMessage, d Descriptor) (*AppendResult, error) {
	log := logger.FromContext(ctx)

	out, err := lock.Run(ctx, s.locks, sessionID, func(ctx context.Context) (*AppendResult, error) {
		sess, err := s.owned(ctx, userID, sessionID)
		if err != nil {
			return nil, err
		}

		mr, err := s.merger.Merge(sess.Thread, batch, d)
		if err != nil {
			return nil, err
		}

		res := &AppendResult{
			Applied:            mr.Applied,
			Messages:           mr.Messages,
			DuplicatesFiltered: mr.DuplicatesFiltered,
			OperationID:        mr.OperationID,
			RelanceIndex:       mr.RelanceIndex,
			Session:            sess,
		}
		if !mr.Applied {
			return res, nil
		}

		// last checkpoint before the write; a timed out caller stops here
		if err := ctx.Err(); err != nil {
			return nil, context.Cause(ctx)
		}

		now := time.Now().UTC()
		if err := s.repo.ReplaceThread(ctx, sessionID, mr.Thread, now); err != nil {
			return nil, persistErr(err)
		}
		sess.Thread = mr.Thread
		sess.UpdatedAt = now
		return res, nil
	}, lock.WithName("append_batch"))
	if err != nil {
		return nil, err
	}

	if out.Applied {
		log.Info("chat batch applied",
			"session_id", sessionID, "operation_id", d.OperationID, "relance_index", d.RelanceIndex,
			"added", len(out.Messages), "duplicates", out.DuplicatesFiltered, "thread_len", len(out.Session.Thread))
		s.notify(ctx, userID, syncqueue.OpUpdate, sessionID)
	} else {
		log.Info("chat batch no-op",
			"session_id", sessionID, "operation_id", d.OperationID, "relance_index", d.RelanceIndex,
			"duplicates", out.DuplicatesFiltered)
	}
	return out, nil
}

// persistErr keeps the store error in the chain. A session that vanished
// between load and write reports as not found.
func persistErr(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%w: %w", ErrSessionNotFound, err)
	}
	return fmt.Errorf("%w: %w", ErrPersistence, err)
}

// notify reports a mutation to the sync pipeline. Failures are logged only:
// the write already succeeded and reconciliation is best effort.
func (s *Service) notify(ctx context.Context, userID uint64, op syncqueue.Operation, sessionID string) {
	err := s.notifier.Notify(ctx, syncqueue.Entry{
		EntityType: EntityType,
		Operation:  op,
		EntityID:   sessionID,
		OwnerID:    userID,
	})
	if err != nil {
		logger.FromContext(ctx).Warn("sync notify failed",
			"entity_type", EntityType, "operation", op, "entity_id", sessionID, "err", err)
	}
}
