package repomanager

import (
	"context"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dmitrijs2005/legacyvault/internal/common"
	"github.com/dmitrijs2005/legacyvault/internal/server/models"
	"github.com/dmitrijs2005/legacyvault/internal/server/repositories/checkins"
	"github.com/dmitrijs2005/legacyvault/internal/server/repositories/contacts"
	"github.com/dmitrijs2005/legacyvault/internal/server/repositories/itemkeys"
	"github.com/dmitrijs2005/legacyvault/internal/server/repositories/owners"
	"github.com/dmitrijs2005/legacyvault/internal/server/repositories/recipients"
	"github.com/dmitrijs2005/legacyvault/internal/server/repositories/submissions"
	"github.com/dmitrijs2005/legacyvault/internal/server/repositories/unlockrequests"
)

type memState struct {
	owners      map[string]models.Owner
	checkIns    []models.CheckInRecord
	contacts    map[string]models.TrustedContact
	requests    map[string]models.UnlockRequest
	submissions map[string][]models.ShareSubmission
	recipients  map[string]models.Recipient
	grants      map[string]models.AccessGrant
	itemKeys    map[string]models.ItemKey
}

func newMemState() *memState {
	return &memState{
		owners:      map[string]models.Owner{},
		contacts:    map[string]models.TrustedContact{},
		requests:    map[string]models.UnlockRequest{},
		submissions: map[string][]models.ShareSubmission{},
		recipients:  map[string]models.Recipient{},
		grants:      map[string]models.AccessGrant{},
		itemKeys:    map[string]models.ItemKey{},
	}
}

func (s *memState) clone() *memState {
	c := newMemState()
	for k, v := range s.owners {
		c.owners[k] = v.Clone()
	}
	c.checkIns = slices.Clone(s.checkIns)
	for k, v := range s.contacts {
		c.contacts[k] = v
	}
	for k, v := range s.requests {
		c.requests[k] = v.Clone()
	}
	for k, v := range s.submissions {
		c.submissions[k] = slices.Clone(v)
	}
	for k, v := range s.recipients {
		c.recipients[k] = v
	}
	for k, v := range s.grants {
		c.grants[k] = v
	}
	for k, v := range s.itemKeys {
		c.itemKeys[k] = v
	}
	return c
}

// MemoryStore keeps everything in process memory. A transaction holds the
// store lock for its whole duration and works on a copy that replaces the
// live state on commit, so transactions are fully serialized.
type MemoryStore struct {
	mu    sync.Mutex
	state *memState
	memRepos
}

func NewMemoryStore() *MemoryStore {
	s := &MemoryStore{state: newMemState()}
	s.memRepos = memRepos{store: s}
	return s
}

// WithTx runs fn against a private copy of the whole state and swaps it in
// on success. Transactions are serialized by one store-wide lock and each
// one copies everything, including the ever-growing check-in history, so a
// sweep over N owners costs O(N * state). Meant for development and tests,
// not for production volumes.
func (s *MemoryStore) WithTx(ctx context.Context, fn func(ctx context.Context, repos Repositories) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	work := s.state.clone()
	if err := fn(ctx, &memRepos{tx: work}); err != nil {
		return err
	}
	s.state = work
	return nil
}

func (s *MemoryStore) RunMigrations(ctx context.Context) error { return nil }

func (s *MemoryStore) Ping(ctx context.Context) error { return nil }

func (s *MemoryStore) Close() error { return nil }

// memRepos is bound either to the live state (store set, locking per call)
// or to a transaction copy (tx set, lock already held).
type memRepos struct {
	store *MemoryStore
	tx    *memState
}

func (r *memRepos) do(fn func(st *memState) error) error {
	if r.tx != nil {
		return fn(r.tx)
	}
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	return fn(r.store.state)
}

func (r *memRepos) Owners() owners.Repository                 { return memOwners{r} }
func (r *memRepos) CheckIns() checkins.Repository             { return memCheckIns{r} }
func (r *memRepos) Contacts() contacts.Repository             { return memContacts{r} }
func (r *memRepos) UnlockRequests() unlockrequests.Repository { return memRequests{r} }
func (r *memRepos) Submissions() submissions.Repository       { return memSubmissions{r} }
func (r *memRepos) Recipients() recipients.Repository         { return memRecipients{r} }
func (r *memRepos) ItemKeys() itemkeys.Repository             { return memItemKeys{r} }

type memOwners struct{ r *memRepos }

func (m memOwners) Create(ctx context.Context, o *models.Owner) error {
	return m.r.do(func(st *memState) error {
		if _, ok := st.owners[o.ID]; ok {
			return common.ErrorAlreadyExists
		}
		st.owners[o.ID] = o.Clone()
		return nil
	})
}

func (m memOwners) Get(ctx context.Context, id string) (*models.Owner, error) {
	var out *models.Owner
	err := m.r.do(func(st *memState) error {
		o, ok := st.owners[id]
		if !ok {
			return common.ErrorNotFound
		}
		c := o.Clone()
		out = &c
		return nil
	})
	return out, err
}

func (m memOwners) GetForUpdate(ctx context.Context, id string) (*models.Owner, error) {
	return m.Get(ctx, id)
}

func (m memOwners) Update(ctx context.Context, o *models.Owner) error {
	return m.r.do(func(st *memState) error {
		if _, ok := st.owners[o.ID]; !ok {
			return common.ErrorNotFound
		}
		st.owners[o.ID] = o.Clone()
		return nil
	})
}

func (m memOwners) ListEnabledIDs(ctx context.Context) ([]string, error) {
	var ids []string
	err := m.r.do(func(st *memState) error {
		for id, o := range st.owners {
			if o.Enabled {
				ids = append(ids, id)
			}
		}
		sort.Strings(ids)
		return nil
	})
	return ids, err
}

type memCheckIns struct{ r *memRepos }

func (m memCheckIns) Create(ctx context.Context, rec *models.CheckInRecord) error {
	return m.r.do(func(st *memState) error {
		st.checkIns = append(st.checkIns, *rec)
		return nil
	})
}

func (m memCheckIns) ListRecent(ctx context.Context, ownerID string, limit int) ([]models.CheckInRecord, error) {
	var out []models.CheckInRecord
	err := m.r.do(func(st *memState) error {
		for _, rec := range st.checkIns {
			if rec.OwnerID == ownerID {
				out = append(out, rec)
			}
		}
		sort.SliceStable(out, func(i, j int) bool { return out[i].SentAt.After(out[j].SentAt) })
		if limit > 0 && len(out) > limit {
			out = out[:limit]
		}
		return nil
	})
	return out, err
}

type memContacts struct{ r *memRepos }

func (m memContacts) Create(ctx context.Context, c *models.TrustedContact) error {
	return m.r.do(func(st *memState) error {
		if _, ok := st.contacts[c.ID]; ok {
			return common.ErrorAlreadyExists
		}
		st.contacts[c.ID] = *c
		return nil
	})
}

func (m memContacts) Get(ctx context.Context, id string) (*models.TrustedContact, error) {
	return m.find(func(c models.TrustedContact) bool { return c.ID == id })
}

func (m memContacts) GetByTokenHash(ctx context.Context, hash string) (*models.TrustedContact, error) {
	return m.find(func(c models.TrustedContact) bool { return c.VerificationTokenHash == hash })
}

func (m memContacts) find(match func(models.TrustedContact) bool) (*models.TrustedContact, error) {
	var out *models.TrustedContact
	err := m.r.do(func(st *memState) error {
		for _, c := range st.contacts {
			if match(c) {
				out = &c
				return nil
			}
		}
		return common.ErrorNotFound
	})
	return out, err
}

func (m memContacts) ListByOwner(ctx context.Context, ownerID string) ([]models.TrustedContact, error) {
	var out []models.TrustedContact
	err := m.r.do(func(st *memState) error {
		for _, c := range st.contacts {
			if c.OwnerID == ownerID {
				out = append(out, c)
			}
		}
		sort.Slice(out, func(i, j int) bool {
			if out[i].CreatedAt.Equal(out[j].CreatedAt) {
				return out[i].ID < out[j].ID
			}
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		})
		return nil
	})
	return out, err
}

func (m memContacts) Update(ctx context.Context, c *models.TrustedContact) error {
	return m.r.do(func(st *memState) error {
		if _, ok := st.contacts[c.ID]; !ok {
			return common.ErrorNotFound
		}
		st.contacts[c.ID] = *c
		return nil
	})
}

func (m memContacts) Delete(ctx context.Context, id string) error {
	return m.r.do(func(st *memState) error {
		if _, ok := st.contacts[id]; !ok {
			return common.ErrorNotFound
		}
		delete(st.contacts, id)
		return nil
	})
}

func (m memContacts) ClearShares(ctx context.Context, ownerID string) error {
	return m.r.do(func(st *memState) error {
		for id, c := range st.contacts {
			if c.OwnerID == ownerID {
				c.ShareIndex = 0
				c.EncryptedShare = ""
				st.contacts[id] = c
			}
		}
		return nil
	})
}

type memRequests struct{ r *memRepos }

func (m memRequests) Create(ctx context.Context, req *models.UnlockRequest) error {
	return m.r.do(func(st *memState) error {
		if _, ok := st.requests[req.ID]; ok {
			return common.ErrorAlreadyExists
		}
		if !req.Status.Terminal() {
			for _, other := range st.requests {
				if other.OwnerID == req.OwnerID && !other.Status.Terminal() {
					return common.ErrAlreadyOpen
				}
			}
		}
		st.requests[req.ID] = req.Clone()
		return nil
	})
}

func (m memRequests) Get(ctx context.Context, id string) (*models.UnlockRequest, error) {
	var out *models.UnlockRequest
	err := m.r.do(func(st *memState) error {
		req, ok := st.requests[id]
		if !ok {
			return common.ErrorNotFound
		}
		c := req.Clone()
		out = &c
		return nil
	})
	return out, err
}

func (m memRequests) GetOpenByOwner(ctx context.Context, ownerID string) (*models.UnlockRequest, error) {
	var out *models.UnlockRequest
	err := m.r.do(func(st *memState) error {
		for _, req := range st.requests {
			if req.OwnerID == ownerID && !req.Status.Terminal() {
				c := req.Clone()
				out = &c
				return nil
			}
		}
		return common.ErrorNotFound
	})
	return out, err
}

func (m memRequests) ListByOwner(ctx context.Context, ownerID string) ([]models.UnlockRequest, error) {
	return m.list(func(req models.UnlockRequest) bool { return req.OwnerID == ownerID },
		func(a, b models.UnlockRequest) bool { return a.CreatedAt.After(b.CreatedAt) })
}

func (m memRequests) ListExpirable(ctx context.Context, now time.Time) ([]models.UnlockRequest, error) {
	return m.list(func(req models.UnlockRequest) bool {
		return req.Status == models.UnlockPendingConfirmation && !req.ExpiresAt.After(now)
	}, func(a, b models.UnlockRequest) bool { return a.ExpiresAt.Before(b.ExpiresAt) })
}

func (m memRequests) list(match func(models.UnlockRequest) bool, less func(a, b models.UnlockRequest) bool) ([]models.UnlockRequest, error) {
	var out []models.UnlockRequest
	err := m.r.do(func(st *memState) error {
		for _, req := range st.requests {
			if match(req) {
				out = append(out, req.Clone())
			}
		}
		sort.Slice(out, func(i, j int) bool { return less(out[i], out[j]) })
		return nil
	})
	return out, err
}

func (m memRequests) Transition(ctx context.Context, id string, from []models.UnlockStatus, to models.UnlockStatus, reason string, resolvedAt *time.Time) (bool, error) {
	var done bool
	err := m.r.do(func(st *memState) error {
		req, ok := st.requests[id]
		if !ok || !slices.Contains(from, req.Status) {
			return nil
		}
		req.Status = to
		req.Reason = reason
		req.ResolvedAt = nil
		if resolvedAt != nil {
			t := *resolvedAt
			req.ResolvedAt = &t
		}
		st.requests[id] = req
		done = true
		return nil
	})
	return done, err
}

func (m memRequests) AddConfirmation(ctx context.Context, id, contactID string) (int, bool, error) {
	var count int
	var added bool
	err := m.r.do(func(st *memState) error {
		req, ok := st.requests[id]
		if !ok {
			return common.ErrorNotFound
		}
		if req.Status != models.UnlockPendingConfirmation {
			return common.ErrRequestClosed
		}
		if !slices.Contains(req.ConfirmedContactIDs, contactID) {
			req = req.Clone()
			req.ConfirmedContactIDs = append(req.ConfirmedContactIDs, contactID)
			req.ConfirmationCount = len(req.ConfirmedContactIDs)
			st.requests[id] = req
			added = true
		}
		count = req.ConfirmationCount
		return nil
	})
	return count, added, err
}

type memSubmissions struct{ r *memRepos }

func (m memSubmissions) Add(ctx context.Context, s *models.ShareSubmission) (bool, error) {
	var added bool
	err := m.r.do(func(st *memState) error {
		for _, existing := range st.submissions[s.RequestID] {
			if existing.ContactID == s.ContactID {
				return nil
			}
		}
		st.submissions[s.RequestID] = append(st.submissions[s.RequestID], *s)
		added = true
		return nil
	})
	return added, err
}

func (m memSubmissions) ListActive(ctx context.Context, requestID string) ([]models.ShareSubmission, error) {
	var out []models.ShareSubmission
	err := m.r.do(func(st *memState) error {
		for _, s := range st.submissions[requestID] {
			if s.RevokedAt == nil {
				out = append(out, s)
			}
		}
		sort.SliceStable(out, func(i, j int) bool { return out[i].SubmittedAt.Before(out[j].SubmittedAt) })
		return nil
	})
	return out, err
}

func (m memSubmissions) Revoke(ctx context.Context, requestID string, at time.Time) error {
	return m.r.do(func(st *memState) error {
		subs := slices.Clone(st.submissions[requestID])
		for i := range subs {
			if subs[i].RevokedAt == nil {
				t := at
				subs[i].SealedShare = ""
				subs[i].RevokedAt = &t
			}
		}
		st.submissions[requestID] = subs
		return nil
	})
}

type memRecipients struct{ r *memRepos }

func (m memRecipients) Create(ctx context.Context, rec *models.Recipient) error {
	return m.r.do(func(st *memState) error {
		if _, ok := st.recipients[rec.ID]; ok {
			return common.ErrorAlreadyExists
		}
		st.recipients[rec.ID] = *rec
		return nil
	})
}

func (m memRecipients) ListByOwner(ctx context.Context, ownerID string) ([]models.Recipient, error) {
	var out []models.Recipient
	err := m.r.do(func(st *memState) error {
		for _, rec := range st.recipients {
			if rec.OwnerID == ownerID {
				out = append(out, rec)
			}
		}
		sort.Slice(out, func(i, j int) bool {
			if out[i].CreatedAt.Equal(out[j].CreatedAt) {
				return out[i].ID < out[j].ID
			}
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		})
		return nil
	})
	return out, err
}

func (m memRecipients) CreateGrant(ctx context.Context, g *models.AccessGrant) error {
	return m.r.do(func(st *memState) error {
		if _, ok := st.grants[g.TokenHash]; ok {
			return common.ErrorAlreadyExists
		}
		st.grants[g.TokenHash] = *g
		return nil
	})
}

func (m memRecipients) GetGrantByTokenHash(ctx context.Context, hash string) (*models.AccessGrant, error) {
	var out *models.AccessGrant
	err := m.r.do(func(st *memState) error {
		g, ok := st.grants[hash]
		if !ok {
			return common.ErrorNotFound
		}
		out = &g
		return nil
	})
	return out, err
}

type memItemKeys struct{ r *memRepos }

func itemKeyID(ownerID, itemID string) string {
	return ownerID + "\x00" + itemID
}

func (m memItemKeys) Create(ctx context.Context, k *models.ItemKey) (bool, error) {
	var created bool
	err := m.r.do(func(st *memState) error {
		id := itemKeyID(k.OwnerID, k.ItemID)
		if _, ok := st.itemKeys[id]; ok {
			return nil
		}
		st.itemKeys[id] = *k
		created = true
		return nil
	})
	return created, err
}

func (m memItemKeys) Get(ctx context.Context, ownerID, itemID string) (*models.ItemKey, error) {
	var out *models.ItemKey
	err := m.r.do(func(st *memState) error {
		k, ok := st.itemKeys[itemKeyID(ownerID, itemID)]
		if !ok {
			return common.ErrorNotFound
		}
		out = &k
		return nil
	})
	return out, err
}

func (m memItemKeys) ListByOwner(ctx context.Context, ownerID string) ([]models.ItemKey, error) {
	var out []models.ItemKey
	err := m.r.do(func(st *memState) error {
		for _, k := range st.itemKeys {
			if k.OwnerID == ownerID {
				out = append(out, k)
			}
		}
		sort.Slice(out, func(i, j int) bool { return strings.Compare(out[i].ItemID, out[j].ItemID) < 0 })
		return nil
	})
	return out, err
}

func (m memItemKeys) Update(ctx context.Context, k *models.ItemKey) error {
	return m.r.do(func(st *memState) error {
		id := itemKeyID(k.OwnerID, k.ItemID)
		if _, ok := st.itemKeys[id]; !ok {
			return common.ErrorNotFound
		}
		st.itemKeys[id] = *k
		return nil
	})
}
