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

// Package mysqlsh runs administrative scripts against the upstream cluster
// through MySQL Shell
package mysqlsh

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/presslabs/controller-util/rand"
	logf "sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/bitpoke/mysql-router-operator/pkg/container"
	"github.com/bitpoke/mysql-router-operator/pkg/internal/mysql"
	"github.com/bitpoke/mysql-router-operator/pkg/util/constants"
)

var log = logf.Log.WithName("mysqlsh")

// Connection holds the credentials of the upstream cluster
type Connection struct {
	Username string
	Password string
	Host     string
	Port     int
}

// RouterUser is the MySQL user created by a router bootstrap
type RouterUser struct {
	Username string
	RouterID string
}

// Interface is the set of operations run against the upstream cluster
type Interface interface {
	// CreateApplicationDatabaseAndUser creates the database and a user that
	// owns it, it returns the generated password
	CreateApplicationDatabaseAndUser(ctx context.Context, username, database string) (string, error)
	AddAttributesToRouterUser(ctx context.Context, username, routerID, unitName string) error
	// GetMySQLRouterUserForUnit returns nil when the unit has no router user
	GetMySQLRouterUserForUnit(ctx context.Context, unitName string) (*RouterUser, error)
	RemoveRouterFromClusterMetadata(ctx context.Context, routerID string) error
	DeleteUser(ctx context.Context, username string, mustExist bool) error
	IsRouterInClusterSet(ctx context.Context, routerID string) (bool, error)
}

// Shell implements Interface by running python scripts with mysqlsh
type Shell struct {
	container container.Container
	conn      Connection

	// Timeout bounds one mysqlsh run, zero means no timeout
	Timeout time.Duration
}

var _ Interface = &Shell{}

// New returns a shell connected as the given upstream user
func New(c container.Container, conn Connection) *Shell {
	return &Shell{
		container: c,
		conn:      conn,
		Timeout:   2 * time.Minute,
	}
}

// runCode runs the python code against the primary. When out is set the code
// must assign a JSON serializable value to `result` which is decoded into out.
func (s *Shell) runCode(ctx context.Context, code string, out interface{}) error {
	suffix, err := rand.AlphaNumericString(8)
	if err != nil {
		return err
	}
	scriptFile := fmt.Sprintf("%s/script-%s.py", container.TmpDir, suffix)
	errorFile := fmt.Sprintf("%s/script-%s-error.json", container.TmpDir, suffix)
	outputFile := fmt.Sprintf("%s/script-%s-output.json", container.TmpDir, suffix)

	script, err := s.wrap(code, errorFile, outputFile, out != nil)
	if err != nil {
		return err
	}

	defer func() {
		for _, f := range []string{scriptFile, errorFile, outputFile} {
			if err := s.container.Remove(f); err != nil && !container.IsNotExist(err) {
				log.Error(err, "failed to remove script file", "file", f)
			}
		}
	}()

	if err = s.container.WriteFile(scriptFile, []byte(script), 0600); err != nil {
		return errors.Wrap(err, "failed to write mysqlsh script")
	}

	log.V(1).Info("running mysqlsh script", "code", s.redact(code))
	_, runErr := s.container.RunMySQLShell(ctx, []string{"--no-wizard", "--python", "--file", scriptFile}, s.Timeout)

	if data, err := s.container.ReadFile(errorFile); err == nil {
		return parseError(data)
	} else if !container.IsNotExist(err) {
		return errors.Wrap(err, "failed to read mysqlsh error file")
	}

	if runErr != nil {
		var failure *container.ProcessFailure
		if errors.As(runErr, &failure) {
			log.Info("mysqlsh failed", "exitCode", failure.ExitCode, "stderr", s.redact(failure.Stderr))
			return fmt.Errorf("mysqlsh exited with code %d: %s", failure.ExitCode, s.redact(failure.Stderr))
		}
		return errors.Wrap(runErr, "failed to run mysqlsh")
	}

	if out == nil {
		return nil
	}

	data, err := s.container.ReadFile(outputFile)
	if err != nil {
		return errors.Wrap(err, "failed to read mysqlsh output")
	}
	if err = json.Unmarshal(data, out); err != nil {
		return errors.Wrap(err, "failed to decode mysqlsh output")
	}
	return nil
}

func (s *Shell) wrap(code, errorFile, outputFile string, withOutput bool) (string, error) {
	conn, err := json.Marshal(map[string]interface{}{
		"user":     s.conn.Username,
		"password": s.conn.Password,
		"host":     s.conn.Host,
		"port":     s.conn.Port,
	})
	if err != nil {
		return "", err
	}

	lines := []string{
		"import json",
		"import traceback",
		"import mysqlsh",
		"",
		"result = None",
		"try:",
		fmt.Sprintf("    shell.connect_to_primary(%s)", conn),
	}
	for _, l := range strings.Split(code, "\n") {
		lines = append(lines, "    "+l)
	}
	lines = append(lines,
		"except mysqlsh.DBError as e:",
		fmt.Sprintf("    with open(%q, 'w') as f:", errorFile),
		"        json.dump({'message': str(e.msg), 'code': e.code, 'traceback_message': traceback.format_exc()}, f)",
	)
	if withOutput {
		lines = append(lines,
			"else:",
			fmt.Sprintf("    with open(%q, 'w') as f:", outputFile),
			"        json.dump(result, f)",
		)
	}
	lines = append(lines, "")
	return strings.Join(lines, "\n"), nil
}

func (s *Shell) redact(in string) string {
	return container.Redact(in, s.conn.Password)
}

func (s *Shell) runQueries(ctx context.Context, queries ...mysql.Query) error {
	script, err := mysql.RunSQLScript(queries...)
	if err != nil {
		return err
	}
	return s.runCode(ctx, script, nil)
}

// CreateApplicationDatabaseAndUser implements Interface
func (s *Shell) CreateApplicationDatabaseAndUser(ctx context.Context, username, database string) (string, error) {
	if err := mysql.ValidateIdentifier(database); err != nil {
		return "", err
	}
	if err := mysql.ValidateIdentifier(username); err != nil {
		return "", err
	}

	password, err := rand.AlphaNumericString(constants.PasswordLength)
	if err != nil {
		return "", err
	}

	log.Info("creating database and user", "database", database, "user", username)
	err = s.runQueries(ctx,
		mysql.CreateDatabaseIfNotExistsQuery(database),
		mysql.CreateUserQuery(username, password, mysql.Attributes{CreatedByUser: s.conn.Username}),
		mysql.GrantAllOnDatabaseQuery(username, database),
	)
	if err != nil {
		return "", errors.Wrapf(err, "failed to create database %s and user %s", database, username)
	}
	return password, nil
}

// AddAttributesToRouterUser implements Interface
func (s *Shell) AddAttributesToRouterUser(ctx context.Context, username, routerID, unitName string) error {
	log.Info("adding attributes to router user", "user", username, "routerID", routerID, "unit", unitName)
	err := s.runQueries(ctx, mysql.AlterUserAttributesQuery(username, mysql.Attributes{
		CreatedByUser:     s.conn.Username,
		RouterID:          routerID,
		CreatedByJujuUnit: unitName,
	}))
	return errors.Wrapf(err, "failed to add attributes to router user %s", username)
}

// GetMySQLRouterUserForUnit implements Interface
func (s *Shell) GetMySQLRouterUserForUnit(ctx context.Context, unitName string) (*RouterUser, error) {
	call, err := mysql.SelectRouterUserQuery(s.conn.Username, unitName).RunSQL()
	if err != nil {
		return nil, err
	}

	rows := [][]string{}
	if err = s.runCode(ctx, fmt.Sprintf("result = [[row[0], row[1]] for row in %s.fetch_all()]", call), &rows); err != nil {
		return nil, errors.Wrapf(err, "failed to get router user for unit %s", unitName)
	}

	switch len(rows) {
	case 0:
		return nil, nil
	case 1:
		if len(rows[0]) != 2 {
			return nil, fmt.Errorf("unexpected router user row %v", rows[0])
		}
		return &RouterUser{Username: rows[0][0], RouterID: rows[0][1]}, nil
	default:
		return nil, fmt.Errorf("found %d router users for unit %s, expected at most one", len(rows), unitName)
	}
}

// RemoveRouterFromClusterMetadata implements Interface
func (s *Shell) RemoveRouterFromClusterMetadata(ctx context.Context, routerID string) error {
	id, err := json.Marshal(routerID)
	if err != nil {
		return err
	}

	log.Info("removing router from cluster metadata", "routerID", routerID)
	err = s.runCode(ctx, fmt.Sprintf("cluster = dba.get_cluster()\ncluster.remove_router_metadata(%s)", id), nil)
	return errors.Wrapf(err, "failed to remove router %s from cluster metadata", routerID)
}

// DeleteUser implements Interface
func (s *Shell) DeleteUser(ctx context.Context, username string, mustExist bool) error {
	log.Info("deleting user", "user", username)
	err := s.runQueries(ctx, mysql.DropUserQuery(username, mustExist))
	return errors.Wrapf(err, "failed to delete user %s", username)
}

// IsRouterInClusterSet implements Interface. It returns false when the
// router was removed from the cluster metadata by hand.
func (s *Shell) IsRouterInClusterSet(ctx context.Context, routerID string) (bool, error) {
	call, err := mysql.CountRoutersQuery(routerID).RunSQL()
	if err != nil {
		return false, err
	}

	var found bool
	if err = s.runCode(ctx, fmt.Sprintf("result = %s.fetch_one()[0] > 0", call), &found); err != nil {
		return false, errors.Wrapf(err, "failed to check router %s in cluster metadata", routerID)
	}
	return found, nil
}
