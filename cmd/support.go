package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/stokedbloke/gigglepipe/internal/datastore"
	"github.com/stokedbloke/gigglepipe/internal/fleet"
)

// errPartial signals that a fleet run completed but recorded at least
// one per-user failure; main maps this to exit code 1 rather than the
// exit code 2 reserved for a failure to even start the run.
type errPartial struct {
	failed map[string]error
}

func (e *errPartial) Error() string {
	return fmt.Sprintf("%d user(s) failed; see processing_logs for details", len(e.failed))
}

// IsPartial reports whether err was produced by a fleet run that
// recorded per-user failures rather than failing to start.
func IsPartial(err error) bool {
	var p *errPartial
	return errors.As(err, &p)
}

// resolveUser accepts either a user id or an email address (identified
// by the presence of "@", since ids are opaque tokens the upstream
// service assigns) and returns the resolved id.
func resolveUser(ctx context.Context, store datastore.Interface, idOrEmail string) (string, error) {
	if strings.Contains(idOrEmail, "@") {
		u, err := store.GetUserByEmail(ctx, idOrEmail)
		if err != nil {
			return "", err
		}
		return u.ID, nil
	}
	if _, err := store.GetUser(ctx, idOrEmail); err != nil {
		return "", err
	}
	return idOrEmail, nil
}

// buildFilter splits a --user flag's repeated values into the fleet
// Filter's IDs and Emails lists, preserving the order each kind was
// given in, by the same "contains @" rule resolveUser uses.
func buildFilter(users []string) fleet.Filter {
	var f fleet.Filter
	for _, u := range users {
		if strings.Contains(u, "@") {
			f.Emails = append(f.Emails, u)
		} else {
			f.IDs = append(f.IDs, u)
		}
	}
	return f
}
