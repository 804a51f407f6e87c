package core

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"
)

// fakeStore is an in-memory IdentityStore and JobHistory for core tests.
type fakeStore struct {
	mu            sync.Mutex
	accounts      map[string]*Account // by ID
	passwords     map[string]string   // by ID, plaintext
	profiles      map[string]*Profile
	members       map[string]map[string]bool
	noProfiles    bool
	failOn        map[string]error
	failEmail     string // only fail operations for this email, when set
	panicOn       string
	calls         []string
	nextID        int
	historyFaults error
	jobs          []JobSummary
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		accounts:  make(map[string]*Account),
		passwords: make(map[string]string),
		profiles:  make(map[string]*Profile),
		members:   make(map[string]map[string]bool),
		failOn:    make(map[string]error),
	}
}

// seed adds an existing account with a profile.
func (f *fakeStore) seed(a Account, p Profile) *Account {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	if a.ID == "" {
		a.ID = "seed-" + strconv.Itoa(f.nextID)
	}
	acct := a
	f.accounts[a.ID] = &acct
	p.AccountID = a.ID
	f.profiles[a.ID] = &p
	return &acct
}

func (f *fakeStore) enter(op string) error {
	f.calls = append(f.calls, op)
	if f.panicOn == op {
		panic("fake store: " + op)
	}
	return f.failOn[op]
}

func (f *fakeStore) called(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == op {
			n++
		}
	}
	return n
}

func (f *fakeStore) byEmail(email string) *Account {
	for _, a := range f.accounts {
		if strings.EqualFold(a.Email, email) {
			return a
		}
	}
	return nil
}

func (f *fakeStore) FindAccountByEmail(ctx context.Context, email string) (*Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("FindAccountByEmail"); err != nil && (f.failEmail == "" || f.failEmail == email) {
		return nil, err
	}
	a := f.byEmail(email)
	if a == nil {
		return nil, nil
	}
	cp := *a
	return &cp, nil
}

func (f *fakeStore) UsernameExists(ctx context.Context, username string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("UsernameExists"); err != nil {
		return false, err
	}
	for _, a := range f.accounts {
		if a.Username == username {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeStore) CreateAccount(ctx context.Context, na NewAccount) (*Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("CreateAccount"); err != nil && (f.failEmail == "" || f.failEmail == na.Email) {
		return nil, err
	}
	if f.byEmail(na.Email) != nil {
		return nil, fmt.Errorf("duplicate key: %s", na.Email)
	}
	f.nextID++
	a := &Account{
		ID:                   "acct-" + strconv.Itoa(f.nextID),
		Username:             na.Username,
		Email:                na.Email,
		Init:                 na.Init,
		Status:               na.Status,
		Locale:               na.Locale,
		PreferredLocale:      na.PreferredLocale,
		PreferredAdminLocale: na.PreferredAdminLocale,
		Timezone:             na.Timezone,
	}
	f.accounts[a.ID] = a
	f.passwords[a.ID] = na.Password
	if !f.noProfiles {
		f.profiles[a.ID] = &Profile{AccountID: a.ID}
	}
	cp := *a
	return &cp, nil
}

func (f *fakeStore) UpdateAccount(ctx context.Context, a *Account) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("UpdateAccount"); err != nil {
		return err
	}
	if _, ok := f.accounts[a.ID]; !ok {
		return fmt.Errorf("account %s not found", a.ID)
	}
	cp := *a
	f.accounts[a.ID] = &cp
	return nil
}

func (f *fakeStore) LoadProfile(ctx context.Context, accountID string) (*Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("LoadProfile"); err != nil {
		return nil, err
	}
	p, ok := f.profiles[accountID]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (f *fakeStore) SaveProfile(ctx context.Context, p *Profile) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("SaveProfile"); err != nil {
		return err
	}
	cp := *p
	f.profiles[p.AccountID] = &cp
	return nil
}

func (f *fakeStore) AddGroupMember(ctx context.Context, groupID, accountID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("AddGroupMember"); err != nil {
		return err
	}
	if f.members[groupID] == nil {
		f.members[groupID] = make(map[string]bool)
	}
	f.members[groupID][accountID] = true
	return nil
}

func (f *fakeStore) account(email string) *Account {
	f.mu.Lock()
	defer f.mu.Unlock()
	a := f.byEmail(email)
	if a == nil {
		return nil
	}
	cp := *a
	return &cp
}

func (f *fakeStore) profile(accountID string) *Profile {
	f.mu.Lock()
	defer f.mu.Unlock()
	p := f.profiles[accountID]
	if p == nil {
		return nil
	}
	cp := *p
	return &cp
}

func (f *fakeStore) isMember(groupID, accountID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.members[groupID][accountID]
}

// JobHistory

func (f *fakeStore) RecordJob(ctx context.Context, s JobSummary) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.historyFaults != nil {
		return f.historyFaults
	}
	f.jobs = append(f.jobs, s)
	return nil
}

func (f *fakeStore) GetJob(ctx context.Context, id string) (*JobSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, j := range f.jobs {
		if j.ID == id {
			cp := j
			return &cp, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) ListJobs(ctx context.Context, limit int) ([]JobSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := append([]JobSummary(nil), f.jobs...)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeStore) PurgeJobsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	kept := f.jobs[:0]
	var n int64
	for _, j := range f.jobs {
		if j.FinishedAt.Before(cutoff) {
			n++
			continue
		}
		kept = append(kept, j)
	}
	f.jobs = kept
	return n, nil
}
