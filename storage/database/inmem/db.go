// Package inmemdb keeps the repositories' data in memory. Used in tests and for throwaway local runs.
package inmemdb

import (
	"sync"

	"github.com/trezcool/maker/core/user"
	"github.com/trezcool/maker/core/verification"
)

type (
	DB struct {
		user         *userTable
		verification *verificationTable
	}

	userTable struct {
		sync.RWMutex
		table map[string]*user.User
	}

	verificationTable struct {
		sync.RWMutex
		table map[string]*verification.Request
	}
)

func Open() *DB {
	return &DB{
		user:         &userTable{table: make(map[string]*user.User)},
		verification: &verificationTable{table: make(map[string]*verification.Request)},
	}
}
