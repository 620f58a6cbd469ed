/*
Copyright 2026 Pressinfra SRL

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package fake

import (
	"context"
	"fmt"
	"sync"

	"github.com/presslabs/controller-util/rand"

	"github.com/bitpoke/mysql-router-operator/pkg/internal/mysql"
	"github.com/bitpoke/mysql-router-operator/pkg/mysqlsh"
	"github.com/bitpoke/mysql-router-operator/pkg/util/constants"
)

// User is a MySQL user known by the fake shell
type User struct {
	Password   string
	Attributes mysql.Attributes
	Databases  []string
}

// Shell is an in-memory upstream cluster that implements mysqlsh.Interface
type Shell struct {
	lock sync.Mutex

	// UpstreamUser is the user the shell is connected as
	UpstreamUser string

	Users     map[string]*User
	Databases map[string]bool
	// Routers are the router ids registered in the cluster metadata
	Routers map[string]bool

	// Statements counts the statements that changed the cluster
	Statements int
	// Calls records every operation run
	Calls []string

	// Err is returned by every operation when set
	Err error
}

var _ mysqlsh.Interface = &Shell{}

// NewShell returns an empty cluster
func NewShell(upstreamUser string) *Shell {
	return &Shell{
		UpstreamUser: upstreamUser,
		Users:        map[string]*User{},
		Databases:    map[string]bool{},
		Routers:      map[string]bool{},
	}
}

// BootstrapRouter registers the user and metadata a router bootstrap creates
func (s *Shell) BootstrapRouter(username, routerID string) {
	s.lock.Lock()
	defer s.lock.Unlock()

	s.Users[username] = &User{}
	s.Routers[routerID] = true
}

func (s *Shell) call(format string, args ...interface{}) error {
	s.Calls = append(s.Calls, fmt.Sprintf(format, args...))
	return s.Err
}

// CreateApplicationDatabaseAndUser implements mysqlsh.Interface
func (s *Shell) CreateApplicationDatabaseAndUser(_ context.Context, username, database string) (string, error) {
	s.lock.Lock()
	defer s.lock.Unlock()

	if err := s.call("create %s %s", username, database); err != nil {
		return "", err
	}
	if _, ok := s.Users[username]; ok {
		return "", &mysqlsh.Error{Code: 1396, Message: fmt.Sprintf("Operation CREATE USER failed for '%s'@'%%'", username)}
	}

	password, err := rand.AlphaNumericString(constants.PasswordLength)
	if err != nil {
		return "", err
	}

	s.Statements += 3
	s.Databases[database] = true
	s.Users[username] = &User{
		Password:   password,
		Attributes: mysql.Attributes{CreatedByUser: s.UpstreamUser},
		Databases:  []string{database},
	}
	return password, nil
}

// AddAttributesToRouterUser implements mysqlsh.Interface
func (s *Shell) AddAttributesToRouterUser(_ context.Context, username, routerID, unitName string) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	if err := s.call("alter %s", username); err != nil {
		return err
	}
	user, ok := s.Users[username]
	if !ok {
		return &mysqlsh.Error{Code: 1396, Message: fmt.Sprintf("Operation ALTER USER failed for '%s'@'%%'", username)}
	}

	s.Statements++
	user.Attributes = mysql.Attributes{
		CreatedByUser:     s.UpstreamUser,
		RouterID:          routerID,
		CreatedByJujuUnit: unitName,
	}
	return nil
}

// GetMySQLRouterUserForUnit implements mysqlsh.Interface
func (s *Shell) GetMySQLRouterUserForUnit(_ context.Context, unitName string) (*mysqlsh.RouterUser, error) {
	s.lock.Lock()
	defer s.lock.Unlock()

	if err := s.call("select router user %s", unitName); err != nil {
		return nil, err
	}

	var found *mysqlsh.RouterUser
	for name, user := range s.Users {
		if user.Attributes.CreatedByUser != s.UpstreamUser || user.Attributes.CreatedByJujuUnit != unitName {
			continue
		}
		if found != nil {
			return nil, fmt.Errorf("found more than one router user for unit %s", unitName)
		}
		found = &mysqlsh.RouterUser{Username: name, RouterID: user.Attributes.RouterID}
	}
	return found, nil
}

// RemoveRouterFromClusterMetadata implements mysqlsh.Interface
func (s *Shell) RemoveRouterFromClusterMetadata(_ context.Context, routerID string) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	if err := s.call("remove router %s", routerID); err != nil {
		return err
	}
	s.Statements++
	delete(s.Routers, routerID)
	return nil
}

// DeleteUser implements mysqlsh.Interface
func (s *Shell) DeleteUser(_ context.Context, username string, mustExist bool) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	if err := s.call("drop %s", username); err != nil {
		return err
	}
	if _, ok := s.Users[username]; !ok && mustExist {
		return &mysqlsh.Error{Code: 1396, Message: fmt.Sprintf("Operation DROP USER failed for '%s'@'%%'", username)}
	}
	s.Statements++
	delete(s.Users, username)
	return nil
}

// IsRouterInClusterSet implements mysqlsh.Interface
func (s *Shell) IsRouterInClusterSet(_ context.Context, routerID string) (bool, error) {
	s.lock.Lock()
	defer s.lock.Unlock()

	if err := s.call("cluster set router %s", routerID); err != nil {
		return false, err
	}
	return s.Routers[routerID], nil
}
