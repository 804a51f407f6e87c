package core

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strconv"
	"strings"
)

// usernameSuffixMin and usernameSuffixMax bound the numeric suffix appended to
// a username whose email local part is already taken.
const (
	usernameSuffixMin = 2
	usernameSuffixMax = 6
)

// Action is what the reconciler did with a record.
type Action string

const (
	ActionCreated Action = "created"
	ActionUpdated Action = "updated"
)

// Outcome describes a successfully applied record.
type Outcome struct {
	Action    Action
	AccountID string
	Username  string
}

// ReconcilerConfig holds the site-wide settings the reconciler validates against.
type ReconcilerConfig struct {
	Locales         LocaleSet
	Zones           ZoneSet
	DefaultLocale   string
	DefaultTimezone string

	// IntN returns a pseudo-random int in [0, n). Defaults to math/rand/v2.IntN.
	IntN func(n int) int
}

// Reconciler applies ImportRecords to an IdentityStore.
type Reconciler struct {
	store           IdentityStore
	locales         LocaleSet
	zones           ZoneSet
	defaultLocale   string
	defaultTimezone string
	intn            func(n int) int
}

// NewReconciler creates a Reconciler bound to store.
func NewReconciler(store IdentityStore, cfg ReconcilerConfig) *Reconciler {
	intn := cfg.IntN
	if intn == nil {
		intn = rand.IntN
	}
	locales := cfg.Locales
	if locales == nil {
		locales = LocaleSet{}
	}
	zones := cfg.Zones
	if zones == nil {
		zones = ZoneList{}
	}
	return &Reconciler{
		store:           store,
		locales:         locales,
		zones:           zones,
		defaultLocale:   cfg.DefaultLocale,
		defaultTimezone: cfg.DefaultTimezone,
		intn:            intn,
	}
}

// Reconcile creates the account for rec when its email is unknown, otherwise
// updates the existing one. Incoming values that are empty or invalid never
// overwrite stored values on update. When groupID is non-empty the account is
// added to that group.
//
// Store errors are returned as-is, wrapped with the step that failed. Steps
// already applied for this record are not undone.
func (r *Reconciler) Reconcile(ctx context.Context, rec ImportRecord, groupID string) (Outcome, error) {
	existing, err := r.store.FindAccountByEmail(ctx, rec.Email)
	if err != nil {
		return Outcome{}, fmt.Errorf("find account: %w", err)
	}
	if existing == nil {
		return r.create(ctx, rec, groupID)
	}
	return r.update(ctx, existing, rec, groupID)
}

func (r *Reconciler) create(ctx context.Context, rec ImportRecord, groupID string) (Outcome, error) {
	username, err := r.resolveUsername(ctx, usernameFromEmail(rec.Email))
	if err != nil {
		return Outcome{}, err
	}

	locale := r.defaultLocale
	if IsKnownLocale(rec.Locale, r.locales) {
		locale = rec.Locale
	}
	timezone := r.defaultTimezone
	if IsKnownTimezone(rec.Timezone, r.zones) {
		timezone = rec.Timezone
	}

	acct, err := r.store.CreateAccount(ctx, NewAccount{
		Username:             username,
		Email:                rec.Email,
		Init:                 rec.Email,
		Status:               rec.Status.OrBlocked(),
		Password:             rec.Password,
		Locale:               locale,
		PreferredLocale:      locale,
		PreferredAdminLocale: locale,
		Timezone:             timezone,
	})
	if err != nil {
		return Outcome{}, fmt.Errorf("create account: %w", err)
	}

	// The profile may not be materialized yet; attaching is skipped then.
	profile, err := r.store.LoadProfile(ctx, acct.ID)
	if err != nil {
		return Outcome{}, fmt.Errorf("load profile: %w", err)
	}
	if profile != nil {
		profile.FirstName = rec.FirstName
		profile.LastName = rec.LastName
		profile.Organization = rec.Organization
		if err := r.store.SaveProfile(ctx, profile); err != nil {
			return Outcome{}, fmt.Errorf("save profile: %w", err)
		}
	}

	if groupID != "" {
		if err := r.store.AddGroupMember(ctx, groupID, acct.ID); err != nil {
			return Outcome{}, fmt.Errorf("add group member: %w", err)
		}
	}

	return Outcome{Action: ActionCreated, AccountID: acct.ID, Username: acct.Username}, nil
}

func (r *Reconciler) update(ctx context.Context, acct *Account, rec ImportRecord, groupID string) (Outcome, error) {
	if rec.Status.Valid() {
		acct.Status = rec.Status
	}
	if IsKnownLocale(rec.Locale, r.locales) {
		acct.Locale = rec.Locale
		acct.PreferredLocale = rec.Locale
		acct.PreferredAdminLocale = rec.Locale
	}
	if IsKnownTimezone(rec.Timezone, r.zones) {
		acct.Timezone = rec.Timezone
	}
	if err := r.store.UpdateAccount(ctx, acct); err != nil {
		return Outcome{}, fmt.Errorf("update account: %w", err)
	}

	profile, err := r.store.LoadProfile(ctx, acct.ID)
	if err != nil {
		return Outcome{}, fmt.Errorf("load profile: %w", err)
	}
	if profile != nil {
		if rec.FirstName != "" {
			profile.FirstName = rec.FirstName
		}
		if rec.LastName != "" {
			profile.LastName = rec.LastName
		}
		if rec.Organization != "" {
			profile.Organization = rec.Organization
		}
		if err := r.store.SaveProfile(ctx, profile); err != nil {
			return Outcome{}, fmt.Errorf("save profile: %w", err)
		}
	}

	if groupID != "" {
		if err := r.store.AddGroupMember(ctx, groupID, acct.ID); err != nil {
			return Outcome{}, fmt.Errorf("add group member: %w", err)
		}
	}

	return Outcome{Action: ActionUpdated, AccountID: acct.ID, Username: acct.Username}, nil
}

// resolveUsername returns base when it is free, otherwise base_N for the first
// free N drawn in random order from [usernameSuffixMin, usernameSuffixMax].
func (r *Reconciler) resolveUsername(ctx context.Context, base string) (string, error) {
	taken, err := r.store.UsernameExists(ctx, base)
	if err != nil {
		return "", fmt.Errorf("check username: %w", err)
	}
	if !taken {
		return base, nil
	}

	for _, n := range r.suffixOrder() {
		candidate := base + "_" + strconv.Itoa(n)
		taken, err := r.store.UsernameExists(ctx, candidate)
		if err != nil {
			return "", fmt.Errorf("check username: %w", err)
		}
		if !taken {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrUsernameExhausted, base)
}

// suffixOrder returns the suffix range shuffled with r.intn.
func (r *Reconciler) suffixOrder() []int {
	order := make([]int, 0, usernameSuffixMax-usernameSuffixMin+1)
	for n := usernameSuffixMin; n <= usernameSuffixMax; n++ {
		order = append(order, n)
	}
	for i := len(order) - 1; i > 0; i-- {
		j := r.intn(i + 1)
		order[i], order[j] = order[j], order[i]
	}
	return order
}

// usernameFromEmail returns the text before the first '@'.
func usernameFromEmail(email string) string {
	if i := strings.IndexByte(email, '@'); i >= 0 {
		return email[:i]
	}
	return email
}
