package memory

import (
	"testing"

	"github.com/ds124wfegd/tripseats/internal/database"
	"github.com/ds124wfegd/tripseats/internal/database/storetest"
)

func TestStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) database.Store {
		return NewStore()
	})
}
