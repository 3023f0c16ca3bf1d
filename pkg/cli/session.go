package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/harrisonrobin/calsync/pkg/kv"
)

// LinkKey is the kv key recording which calendar the account is linked to.
const LinkKey = "linked_calendar"

type link struct {
	Name     string    `json:"name"`
	ID       string    `json:"id"`
	LinkedAt time.Time `json:"linkedAt"`
}

func (l link) matches(name string) bool {
	return l.ID != "" && strings.EqualFold(strings.TrimSpace(l.Name), strings.TrimSpace(name))
}

func loadLink(ctx context.Context, kvs kv.Store) (link, error) {
	var l link
	b, err := kvs.Get(ctx, LinkKey)
	if errors.Is(err, kv.ErrNotFound) {
		return l, nil
	}
	if err != nil {
		return l, fmt.Errorf("failed to read calendar link: %w", err)
	}
	if err := json.Unmarshal(b, &l); err != nil {
		return link{}, fmt.Errorf("ignoring corrupt calendar link: %w", err)
	}
	return l, nil
}

func saveLink(ctx context.Context, kvs kv.Store, l link) error {
	b, err := json.Marshal(l)
	if err != nil {
		return err
	}
	if err := kvs.Set(ctx, LinkKey, b); err != nil {
		return fmt.Errorf("failed to save calendar link: %w", err)
	}
	return nil
}

type tokenStore interface {
	HasToken() bool
}

// session reads the sign-in and link state fresh on every call, so a
// daemon notices `calsync auth` run from another shell.
type session struct {
	tokens   tokenStore
	kv       kv.Store
	calendar string
}

func (s *session) Authenticated() bool {
	return s.tokens.HasToken()
}

// Linked reports whether the configured calendar has been verified to exist
// for the signed-in account.
func (s *session) Linked() bool {
	l, err := loadLink(context.Background(), s.kv)
	return err == nil && l.matches(s.calendar)
}
