package memory

import (
	"context"
	"strconv"
	"sync/atomic"

	memdb "github.com/hashicorp/go-memdb"
	jmerrors "github.com/jmgilman/go/errors"
	"impractical.co/filefield"
)

var (
	_ filefield.ContextResolver   = &Access{}
	_ filefield.PermissionChecker = &Access{}
)

// SystemContextID is the id of the system context.
const SystemContextID int64 = 1

var (
	accessSchema = &memdb.DBSchema{
		Tables: map[string]*memdb.TableSchema{
			"context": &memdb.TableSchema{
				Name: "context",
				Indexes: map[string]*memdb.IndexSchema{
					"id": &memdb.IndexSchema{
						Name:    "id",
						Unique:  true,
						Indexer: &memdb.StringFieldIndex{Field: "Key"},
					},
				},
			},
			"grant": &memdb.TableSchema{
				Name: "grant",
				Indexes: map[string]*memdb.IndexSchema{
					"id": &memdb.IndexSchema{
						Name:    "id",
						Unique:  true,
						Indexer: &memdb.StringFieldIndex{Field: "Key"},
					},
				},
			},
		},
	}
)

type contextRecord struct {
	Key string
	filefield.Context
}

type grantRecord struct {
	Key string
}

func userContextKey(userID int64) string {
	return strconv.Itoa(int(filefield.LevelUser)) + "|" + strconv.FormatInt(userID, 10)
}

func grantKey(userID int64, capability string, contextID int64) string {
	return strconv.FormatInt(userID, 10) + "|" + capability + "|" + strconv.FormatInt(contextID, 10)
}

type actorKey struct{}

// WithActor returns a copy of ctx in which userID is the actor making the
// request.
func WithActor(ctx context.Context, userID int64) context.Context {
	return context.WithValue(ctx, actorKey{}, userID)
}

// ActorFromContext returns the actor set by WithActor, or 0 if there is
// none.
func ActorFromContext(ctx context.Context) int64 {
	id, _ := ctx.Value(actorKey{}).(int64)
	return id
}

// Access resolves contexts and checks capabilities in memory. A capability
// granted in the system context applies in every context.
type Access struct {
	db     *memdb.MemDB
	nextID atomic.Int64
}

// NewAccess returns an Access that only knows the system context.
func NewAccess() (*Access, error) {
	db, err := memdb.NewMemDB(accessSchema)
	if err != nil {
		return nil, err
	}
	a := &Access{db: db}
	a.nextID.Store(SystemContextID)
	return a, nil
}

// AddUser creates the personal context of a user, or returns it if it
// already exists.
func (a *Access) AddUser(ctx context.Context, userID int64) (filefield.Context, error) {
	txn := a.db.Txn(true)
	defer txn.Abort()
	raw, err := txn.First("context", "id", userContextKey(userID))
	if err != nil {
		return filefield.Context{}, err
	}
	if raw != nil {
		return raw.(*contextRecord).Context, nil
	}
	c := filefield.Context{
		ID:         a.nextID.Add(1),
		Level:      filefield.LevelUser,
		InstanceID: userID,
	}
	if err := txn.Insert("context", &contextRecord{Key: userContextKey(userID), Context: c}); err != nil {
		return filefield.Context{}, err
	}
	txn.Commit()
	return c, nil
}

// UserContext returns the personal context of a user.
func (a *Access) UserContext(ctx context.Context, userID int64, mustExist bool) (filefield.Context, error) {
	raw, err := a.db.Txn(false).First("context", "id", userContextKey(userID))
	if err != nil {
		return filefield.Context{}, err
	}
	if raw != nil {
		return raw.(*contextRecord).Context, nil
	}
	if !mustExist {
		return filefield.Context{}, nil
	}
	nerr := jmerrors.Wrap(filefield.ErrNoContext, jmerrors.CodeNotFound, "user context not found")
	return filefield.Context{}, jmerrors.WithContext(nerr, "user_id", userID)
}

// SystemContext returns the system context.
func (a *Access) SystemContext(ctx context.Context) (filefield.Context, error) {
	return filefield.Context{ID: SystemContextID, Level: filefield.LevelSystem}, nil
}

// Grant gives userID capability in the context.
func (a *Access) Grant(ctx context.Context, userID int64, capability string, in filefield.Context) error {
	txn := a.db.Txn(true)
	defer txn.Abort()
	if err := txn.Insert("grant", &grantRecord{Key: grantKey(userID, capability, in.ID)}); err != nil {
		return err
	}
	txn.Commit()
	return nil
}

// HasCapability reports whether the request's actor has capability in the
// context, either directly or through the system context.
func (a *Access) HasCapability(ctx context.Context, capability string, in filefield.Context) (bool, error) {
	actor := ActorFromContext(ctx)
	if actor == 0 {
		return false, nil
	}
	txn := a.db.Txn(false)
	for _, id := range []int64{in.ID, SystemContextID} {
		raw, err := txn.First("grant", "id", grantKey(actor, capability, id))
		if err != nil {
			return false, err
		}
		if raw != nil {
			return true, nil
		}
	}
	return false, nil
}
