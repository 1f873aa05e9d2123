package contracts

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/pactsign-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/pactsign-backend/pkg/errors"
	"github.com/angelmondragon/pactsign-backend/pkg/logger"
	"github.com/angelmondragon/pactsign-backend/pkg/outbox"
	"github.com/angelmondragon/pactsign-backend/pkg/pagination"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxWriter interface {
	Enqueue(ctx context.Context, tx *gorm.DB, msg outbox.Message) error
	EnqueueOnce(ctx context.Context, tx *gorm.DB, msg outbox.Message) (bool, error)
}

// Service exposes the contract lifecycle. Every mutation runs in one
// transaction together with the outbox rows it produces.
type Service interface {
	Create(ctx context.Context, creatorID uuid.UUID, input CreateInput) (*Contract, error)
	Get(ctx context.Context, actorID, id uuid.UUID) (*Contract, error)
	List(ctx context.Context, actorID uuid.UUID, params ListParams) (*ListResult, error)
	GetBySignToken(ctx context.Context, token string) (*Contract, error)
	Update(ctx context.Context, actorID, id uuid.UUID, input UpdateInput) (*Contract, error)
	Delete(ctx context.Context, actorID, id uuid.UUID) error
	SendForSigning(ctx context.Context, actorID, id uuid.UUID) (*Contract, error)
	ResendSigningRequest(ctx context.Context, actorID, id uuid.UUID) (*Contract, error)
	Cancel(ctx context.Context, actorID, id uuid.UUID) (*Contract, error)
	Sign(ctx context.Context, id uuid.UUID, input SignatureInput) (*Contract, error)
	SignByToken(ctx context.Context, token string, input SignatureInput) (*Contract, error)
	Expire(ctx context.Context, id uuid.UUID) (*Contract, error)
	WarnExpiration(ctx context.Context, id uuid.UUID) (int, error)
	FindExpiredPending(ctx context.Context, limit int) ([]*Contract, error)
	FindExpiring(ctx context.Context, window time.Duration, limit int) ([]*Contract, error)
}

type ServiceParams struct {
	DB            txRunner
	Repository    *Repository
	Outbox        outboxWriter
	Notifier      outbox.Notifier
	Logger        *logger.Logger
	MinExpiryLead time.Duration
	Notifications NotificationSettings
	Now           func() time.Time
}

type service struct {
	db            txRunner
	repo          *Repository
	outbox        outboxWriter
	notifier      outbox.Notifier
	logg          *logger.Logger
	minExpiryLead time.Duration
	compose       composer
	notifyPartial bool
	now           func() time.Time
}

func NewService(params ServiceParams) (Service, error) {
	if params.DB == nil {
		return nil, errors.New("database client is required")
	}
	if params.Repository == nil {
		return nil, errors.New("contract repository is required")
	}
	if params.Outbox == nil {
		return nil, errors.New("outbox writer is required")
	}
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	notifier := params.Notifier
	if notifier == nil {
		notifier = outbox.NopNotifier{}
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &service{
		db:            params.DB,
		repo:          params.Repository,
		outbox:        params.Outbox,
		notifier:      notifier,
		logg:          params.Logger,
		minExpiryLead: params.MinExpiryLead,
		compose:       composer{settings: params.Notifications},
		notifyPartial: params.Notifications.NotifyOnPartialSign,
		now:           func() time.Time { return now().UTC() },
	}, nil
}

func (s *service) Create(ctx context.Context, creatorID uuid.UUID, input CreateInput) (*Contract, error) {
	first, err := NewPartyInfo("first_party", input.FirstParty.Name, input.FirstParty.Email, input.FirstParty.Organization)
	if err != nil {
		return nil, err
	}
	second, err := NewPartyInfo("second_party", input.SecondParty.Name, input.SecondParty.Email, input.SecondParty.Organization)
	if err != nil {
		return nil, err
	}
	c, err := NewContract(creatorID, Draft{
		Title:       input.Title,
		Content:     input.Content,
		FirstParty:  first,
		SecondParty: second,
		ExpiresAt:   input.ExpiresAt,
	}, s.now(), s.minExpiryLead)
	if err != nil {
		return nil, err
	}
	if err := s.repo.Create(ctx, c); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create contract")
	}
	s.logg.Info(s.logg.WithContractID(ctx, c.ID.String()), "contract created")
	return c, nil
}

func (s *service) Get(ctx context.Context, actorID, id uuid.UUID) (*Contract, error) {
	c, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, classify(err, "load contract")
	}
	if !c.IsOwnedBy(actorID) {
		return nil, forbidden()
	}
	return c, nil
}

func (s *service) List(ctx context.Context, actorID uuid.UUID, params ListParams) (*ListResult, error) {
	query := ListQuery{CreatorID: actorID}
	if params.Status != "" {
		status, err := enums.ParseContractStatus(params.Status)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid status filter")
		}
		query.Status = &status
	}
	page, next, err := pagination.Page(params.Params,
		func(after *pagination.Cursor, limit int) ([]*Contract, error) {
			query.Cursor, query.Limit = after, limit
			rows, err := s.repo.ListByCreator(ctx, query)
			if err != nil {
				return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list contracts")
			}
			return rows, nil
		},
		func(c *Contract) pagination.Cursor {
			return pagination.Cursor{CreatedAt: c.CreatedAt, ID: c.ID}
		})
	if err != nil {
		return nil, err
	}
	if page == nil {
		page = []*Contract{}
	}
	return &ListResult{Items: page, Cursor: next}, nil
}

func (s *service) GetBySignToken(ctx context.Context, raw string) (*Contract, error) {
	token, err := ParseSignToken(raw)
	if err != nil {
		return nil, err
	}
	c, err := s.repo.FindBySignToken(ctx, token)
	if err != nil {
		return nil, classify(err, "load contract by token")
	}
	return c, nil
}

func (s *service) Update(ctx context.Context, actorID, id uuid.UUID, input UpdateInput) (*Contract, error) {
	return s.mutateOwned(ctx, actorID, id, "contract updated", func(tx *gorm.DB, c *Contract) (bool, error) {
		if err := c.Update(Changes(input), s.now(), s.minExpiryLead); err != nil {
			return false, err
		}
		return false, s.repo.WithTx(tx).Update(ctx, c)
	})
}

func (s *service) Delete(ctx context.Context, actorID, id uuid.UUID) error {
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		c, err := repo.FindByID(ctx, id)
		if err != nil {
			return err
		}
		if !c.IsOwnedBy(actorID) {
			return forbidden()
		}
		if err := c.CheckDelete(); err != nil {
			return err
		}
		return repo.Delete(ctx, c)
	})
	if err != nil {
		return classify(err, "delete contract")
	}
	s.logg.Info(s.logg.WithContractID(ctx, id.String()), "contract deleted")
	return nil
}

func (s *service) SendForSigning(ctx context.Context, actorID, id uuid.UUID) (*Contract, error) {
	return s.mutateOwned(ctx, actorID, id, "contract sent for signing", func(tx *gorm.DB, c *Contract) (bool, error) {
		if err := c.SendForSigning(s.now()); err != nil {
			return false, err
		}
		if err := s.repo.WithTx(tx).Update(ctx, c); err != nil {
			return false, err
		}
		return s.enqueueAll(ctx, tx, s.compose.signingRequests(c))
	})
}

func (s *service) ResendSigningRequest(ctx context.Context, actorID, id uuid.UUID) (*Contract, error) {
	return s.mutateOwned(ctx, actorID, id, "signing reminder queued", func(tx *gorm.DB, c *Contract) (bool, error) {
		if err := c.CheckRemind(); err != nil {
			return false, err
		}
		return s.enqueueAll(ctx, tx, s.compose.reminders(c))
	})
}

func (s *service) Cancel(ctx context.Context, actorID, id uuid.UUID) (*Contract, error) {
	return s.mutateOwned(ctx, actorID, id, "contract cancelled", func(tx *gorm.DB, c *Contract) (bool, error) {
		previous, err := c.Cancel(s.now())
		if err != nil {
			return false, err
		}
		if err := s.repo.WithTx(tx).Update(ctx, c); err != nil {
			return false, err
		}
		// Parties of a draft were never contacted.
		if previous != enums.ContractStatusPending {
			return false, nil
		}
		return s.enqueueAll(ctx, tx, s.compose.cancelled(c))
	})
}

func (s *service) Sign(ctx context.Context, id uuid.UUID, input SignatureInput) (*Contract, error) {
	return s.sign(ctx, func(repo *Repository) (*Contract, error) {
		return repo.FindByID(ctx, id)
	}, input)
}

func (s *service) SignByToken(ctx context.Context, raw string, input SignatureInput) (*Contract, error) {
	token, err := ParseSignToken(raw)
	if err != nil {
		return nil, err
	}
	return s.sign(ctx, func(repo *Repository) (*Contract, error) {
		return repo.FindBySignToken(ctx, token)
	}, input)
}

func (s *service) sign(ctx context.Context, load func(*Repository) (*Contract, error), input SignatureInput) (*Contract, error) {
	var (
		out       *Contract
		queued    bool
		completed bool
	)
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		c, err := load(repo)
		if err != nil {
			return err
		}
		sig, done, err := c.Sign(input, s.now())
		if err != nil {
			return err
		}
		if err := repo.Update(ctx, c); err != nil {
			return err
		}
		if err := repo.InsertSignature(ctx, c.ID, sig); err != nil {
			return err
		}

		var msgs []outbox.Message
		switch {
		case done:
			msgs = s.compose.completed(c)
		case s.notifyPartial:
			msgs = s.compose.reminders(c)
		}
		if queued, err = s.enqueueAll(ctx, tx, msgs); err != nil {
			return err
		}
		out, completed = c, done
		return nil
	})
	if err != nil {
		return nil, classify(err, "sign contract")
	}
	if queued {
		s.notifier.Notify(ctx)
	}
	logCtx := s.logg.WithFields(ctx, map[string]any{"contract_id": out.ID.String(), "completed": completed})
	s.logg.Info(logCtx, "contract signature recorded")
	return out, nil
}

func (s *service) Expire(ctx context.Context, id uuid.UUID) (*Contract, error) {
	return s.mutate(ctx, id, "contract expired", func(tx *gorm.DB, c *Contract) (bool, error) {
		if err := c.Expire(s.now()); err != nil {
			return false, err
		}
		if err := s.repo.WithTx(tx).Update(ctx, c); err != nil {
			return false, err
		}
		return s.enqueueAll(ctx, tx, s.compose.expired(c))
	})
}

// WarnExpiration stamps the contract and queues one warning per pending
// signer. It returns how many warnings were written.
func (s *service) WarnExpiration(ctx context.Context, id uuid.UUID) (int, error) {
	written := 0
	_, err := s.mutate(ctx, id, "expiration warning queued", func(tx *gorm.DB, c *Contract) (bool, error) {
		now := s.now()
		if err := c.MarkExpirationWarned(now); err != nil {
			return false, err
		}
		if err := s.repo.WithTx(tx).Update(ctx, c); err != nil {
			return false, err
		}
		for _, msg := range s.compose.expirationWarnings(c, now) {
			ok, err := s.outbox.EnqueueOnce(ctx, tx, msg)
			if err != nil {
				return false, err
			}
			if ok {
				written++
			}
		}
		return written > 0, nil
	})
	if err != nil {
		return 0, err
	}
	return written, nil
}

func (s *service) FindExpiredPending(ctx context.Context, limit int) ([]*Contract, error) {
	rows, err := s.repo.FindExpiredPending(ctx, s.now(), limit)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "find expired contracts")
	}
	return rows, nil
}

func (s *service) FindExpiring(ctx context.Context, window time.Duration, limit int) ([]*Contract, error) {
	now := s.now()
	rows, err := s.repo.FindExpiring(ctx, now, now.Add(window), limit)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "find expiring contracts")
	}
	return rows, nil
}

type mutation func(tx *gorm.DB, c *Contract) (queued bool, err error)

func (s *service) mutateOwned(ctx context.Context, actorID, id uuid.UUID, msg string, fn mutation) (*Contract, error) {
	return s.mutate(ctx, id, msg, func(tx *gorm.DB, c *Contract) (bool, error) {
		if !c.IsOwnedBy(actorID) {
			return false, forbidden()
		}
		return fn(tx, c)
	})
}

// mutate loads the contract inside a transaction, applies fn, and signals the
// dispatcher after commit when fn queued mail.
func (s *service) mutate(ctx context.Context, id uuid.UUID, msg string, fn mutation) (*Contract, error) {
	var (
		out    *Contract
		queued bool
	)
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		c, err := s.repo.WithTx(tx).FindByID(ctx, id)
		if err != nil {
			return err
		}
		if queued, err = fn(tx, c); err != nil {
			return err
		}
		out = c
		return nil
	})
	if err != nil {
		return nil, classify(err, msg)
	}
	if queued {
		s.notifier.Notify(ctx)
	}
	logCtx := s.logg.WithFields(ctx, map[string]any{"contract_id": out.ID.String(), "status": out.Status})
	s.logg.Info(logCtx, msg)
	return out, nil
}

func (s *service) enqueueAll(ctx context.Context, tx *gorm.DB, msgs []outbox.Message) (bool, error) {
	for _, msg := range msgs {
		if err := s.outbox.Enqueue(ctx, tx, msg); err != nil {
			return false, err
		}
	}
	return len(msgs) > 0, nil
}

func forbidden() error {
	return pkgerrors.New(pkgerrors.CodeForbidden, "only the contract creator may do this")
}

// classify keeps typed domain errors and wraps anything else as a
// dependency failure.
func classify(err error, msg string) error {
	if pkgerrors.As(err) != nil {
		return err
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, msg)
}
