// Package memory provides an in-process identity store. It backs dry runs of
// the import CLI and the tests of packages that need a working store.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/JonMunkholm/userimport/internal/core"
	"github.com/JonMunkholm/userimport/internal/security"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

var (
	_ core.IdentityStore = (*Store)(nil)
	_ core.AccessStore   = (*Store)(nil)
	_ core.JobHistory    = (*Store)(nil)
)

type accountRecord struct {
	core.Account
	PasswordHash string
}

// Store is a mutex-guarded in-memory implementation of the core store
// interfaces. The zero value is not usable; call New.
type Store struct {
	hasher *security.Hasher

	// DeferProfiles makes CreateAccount skip profile creation, as when the
	// profile is materialized asynchronously by the identity system.
	DeferProfiles bool

	mu         sync.RWMutex
	accounts   map[string]*accountRecord // by ID
	byEmail    map[string]string         // lower(email) -> ID
	byUsername map[string]string         // username -> ID
	profiles   map[string]core.Profile   // by account ID
	groups     map[string]map[string]bool
	groupPerms map[string]map[string]map[string]bool // group -> account -> permission
	roles      map[string]map[string]bool            // account -> role
	jobs       map[string]core.JobSummary
	faults     map[string]error
	calls      map[string]int
}

// New returns an empty store. Passwords are hashed at bcrypt.MinCost.
func New() *Store {
	return &Store{
		hasher:     security.NewHasher(bcrypt.MinCost),
		accounts:   make(map[string]*accountRecord),
		byEmail:    make(map[string]string),
		byUsername: make(map[string]string),
		profiles:   make(map[string]core.Profile),
		groups:     make(map[string]map[string]bool),
		groupPerms: make(map[string]map[string]map[string]bool),
		roles:      make(map[string]map[string]bool),
		jobs:       make(map[string]core.JobSummary),
		faults:     make(map[string]error),
		calls:      make(map[string]int),
	}
}

// SetFault makes every later call to op fail with err. A nil err clears it.
// op is a method name such as "CreateAccount".
func (s *Store) SetFault(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.faults, op)
		return
	}
	s.faults[op] = err
}

// Calls returns how many times op has been invoked.
func (s *Store) Calls(op string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.calls[op]
}

// enter records a call and returns the injected fault, if any. s.mu must be held.
func (s *Store) enter(op string) error {
	s.calls[op]++
	return s.faults[op]
}

// AddGroup registers an empty group.
func (s *Store) AddGroup(groupID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.groups[groupID]; !ok {
		s.groups[groupID] = make(map[string]bool)
	}
}

// GrantGroupPermission gives accountID a permission inside groupID.
func (s *Store) GrantGroupPermission(groupID, accountID, permission string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	byAccount, ok := s.groupPerms[groupID]
	if !ok {
		byAccount = make(map[string]map[string]bool)
		s.groupPerms[groupID] = byAccount
	}
	if byAccount[accountID] == nil {
		byAccount[accountID] = make(map[string]bool)
	}
	byAccount[accountID][permission] = true
}

// GrantRole gives accountID a site-wide role.
func (s *Store) GrantRole(accountID, role string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.roles[accountID] == nil {
		s.roles[accountID] = make(map[string]bool)
	}
	s.roles[accountID][role] = true
}

// Members returns the account IDs in groupID, sorted.
func (s *Store) Members(groupID string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.groups[groupID]))
	for id := range s.groups[groupID] {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Accounts returns every account, ordered by username.
func (s *Store) Accounts() []core.Account {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]core.Account, 0, len(s.accounts))
	for _, rec := range s.accounts {
		out = append(out, rec.Account)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].Username < out[k].Username })
	return out
}

// CheckPassword reports whether password matches the stored hash for email.
func (s *Store) CheckPassword(email, password string) bool {
	s.mu.RLock()
	id, ok := s.byEmail[strings.ToLower(email)]
	var hash string
	if ok {
		hash = s.accounts[id].PasswordHash
	}
	s.mu.RUnlock()
	if !ok || hash == "" {
		return false
	}
	return s.hasher.Compare(hash, password) == nil
}

// ============================================================================
// Identity store
// ============================================================================

func (s *Store) FindAccountByEmail(ctx context.Context, email string) (*core.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("FindAccountByEmail"); err != nil {
		return nil, err
	}
	id, ok := s.byEmail[strings.ToLower(email)]
	if !ok {
		return nil, nil
	}
	acct := s.accounts[id].Account
	return &acct, nil
}

func (s *Store) UsernameExists(ctx context.Context, username string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("UsernameExists"); err != nil {
		return false, err
	}
	_, ok := s.byUsername[username]
	return ok, nil
}

func (s *Store) CreateAccount(ctx context.Context, na core.NewAccount) (*core.Account, error) {
	hash, err := s.hasher.Hash(na.Password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("CreateAccount"); err != nil {
		return nil, err
	}
	if _, ok := s.byEmail[strings.ToLower(na.Email)]; ok {
		return nil, fmt.Errorf("duplicate key: email %q", na.Email)
	}
	if _, ok := s.byUsername[na.Username]; ok {
		return nil, fmt.Errorf("duplicate key: username %q", na.Username)
	}

	now := time.Now().UTC()
	rec := &accountRecord{
		Account: core.Account{
			ID:                   uuid.New().String(),
			Username:             na.Username,
			Email:                na.Email,
			Init:                 na.Init,
			Status:               na.Status,
			Locale:               na.Locale,
			PreferredLocale:      na.PreferredLocale,
			PreferredAdminLocale: na.PreferredAdminLocale,
			Timezone:             na.Timezone,
			CreatedAt:            now,
			UpdatedAt:            now,
		},
		PasswordHash: hash,
	}
	s.accounts[rec.ID] = rec
	s.byEmail[strings.ToLower(na.Email)] = rec.ID
	s.byUsername[na.Username] = rec.ID
	if !s.DeferProfiles {
		s.profiles[rec.ID] = core.Profile{AccountID: rec.ID}
	}

	acct := rec.Account
	return &acct, nil
}

func (s *Store) UpdateAccount(ctx context.Context, acct *core.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("UpdateAccount"); err != nil {
		return err
	}
	rec, ok := s.accounts[acct.ID]
	if !ok {
		return fmt.Errorf("update account %s: not found", acct.ID)
	}
	rec.Status = acct.Status
	rec.Locale = acct.Locale
	rec.PreferredLocale = acct.PreferredLocale
	rec.PreferredAdminLocale = acct.PreferredAdminLocale
	rec.Timezone = acct.Timezone
	rec.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *Store) LoadProfile(ctx context.Context, accountID string) (*core.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("LoadProfile"); err != nil {
		return nil, err
	}
	p, ok := s.profiles[accountID]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (s *Store) SaveProfile(ctx context.Context, p *core.Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("SaveProfile"); err != nil {
		return err
	}
	if _, ok := s.accounts[p.AccountID]; !ok {
		return fmt.Errorf("save profile: account %s not found", p.AccountID)
	}
	s.profiles[p.AccountID] = *p
	return nil
}

func (s *Store) AddGroupMember(ctx context.Context, groupID, accountID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("AddGroupMember"); err != nil {
		return err
	}
	members, ok := s.groups[groupID]
	if !ok {
		return fmt.Errorf("add group member: group %s not found", groupID)
	}
	members[accountID] = true
	return nil
}

// ============================================================================
// Access store
// ============================================================================

func (s *Store) GroupExists(ctx context.Context, groupID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.groups[groupID]
	return ok, nil
}

func (s *Store) IsGroupMember(ctx context.Context, groupID, accountID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.groups[groupID][accountID], nil
}

func (s *Store) HasGroupPermission(ctx context.Context, groupID, accountID, permission string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.groupPerms[groupID][accountID][permission], nil
}

func (s *Store) HasRole(ctx context.Context, accountID, role string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.roles[accountID][role], nil
}

// ============================================================================
// Job history
// ============================================================================

func (s *Store) RecordJob(ctx context.Context, j core.JobSummary) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("RecordJob"); err != nil {
		return err
	}
	s.jobs[j.ID] = j
	return nil
}

func (s *Store) GetJob(ctx context.Context, id string) (*core.JobSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, nil
	}
	return &j, nil
}

func (s *Store) ListJobs(ctx context.Context, limit int) ([]core.JobSummary, error) {
	s.mu.RLock()
	out := make([]core.JobSummary, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, j)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, k int) bool { return out[i].FinishedAt.After(out[k].FinishedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) PurgeJobsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, j := range s.jobs {
		if j.FinishedAt.Before(cutoff) {
			delete(s.jobs, id)
			n++
		}
	}
	return n, nil
}
