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

package mysql

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidIdentifier is returned for names that can not be used in statements
var ErrInvalidIdentifier = errors.New("identifier is not allowed to contain backticks or question marks")

// Attributes are the JSON attributes the operator tags its users with
type Attributes struct {
	CreatedByUser     string `json:"created_by_user"`
	RouterID          string `json:"router_id,omitempty"`
	CreatedByJujuUnit string `json:"created_by_juju_unit,omitempty"`
}

func (a Attributes) String() string {
	data, _ := json.Marshal(a)
	return string(data)
}

// ValidateIdentifier checks that a database or user name is usable
func ValidateIdentifier(id string) error {
	if id == "" || strings.ContainsAny(id, "`?") {
		return fmt.Errorf("%w: %q", ErrInvalidIdentifier, id)
	}
	return nil
}

// CreateDatabaseIfNotExistsQuery returns the query that creates a database
func CreateDatabaseIfNotExistsQuery(database string) Query {
	return NewQuery(fmt.Sprintf("CREATE DATABASE IF NOT EXISTS %s", escapeID(database)))
}

// CreateUserQuery returns the query that creates a user tagged with attributes
func CreateUserQuery(user, pwd string, attrs Attributes) Query {
	return NewQuery("CREATE USER ? IDENTIFIED BY ? ATTRIBUTE ?", user, pwd, attrs.String())
}

// GrantAllOnDatabaseQuery grants every privilege on a database
func GrantAllOnDatabaseQuery(user, database string) Query {
	return NewQuery(fmt.Sprintf("GRANT ALL PRIVILEGES ON %s.* TO ?", escapeID(database)), user)
}

// AlterUserAttributesQuery replaces the attributes of a user
func AlterUserAttributesQuery(user string, attrs Attributes) Query {
	return NewQuery("ALTER USER ? ATTRIBUTE ?", user, attrs.String())
}

// DropUserQuery removes a MySQL user along with its privileges
func DropUserQuery(user string, mustExist bool) Query {
	if mustExist {
		return NewQuery("DROP USER ?", user)
	}
	return NewQuery("DROP USER IF EXISTS ?", user)
}

// SelectRouterUserQuery selects the user and router id of the router bootstrapped by a unit
func SelectRouterUserQuery(createdBy, unitName string) Query {
	return NewQuery("SELECT USER, ATTRIBUTE->>'$.router_id' FROM INFORMATION_SCHEMA.USER_ATTRIBUTES "+
		"WHERE ATTRIBUTE->>'$.created_by_user'=? AND ATTRIBUTE->>'$.created_by_juju_unit'=?",
		createdBy, unitName)
}

// SelectUsersCreatedByQuery selects every user created by the given user
func SelectUsersCreatedByQuery(createdBy string) Query {
	return NewQuery("SELECT USER FROM INFORMATION_SCHEMA.USER_ATTRIBUTES WHERE ATTRIBUTE->>'$.created_by_user'=?",
		createdBy)
}

// CountRoutersQuery counts the routers registered in the cluster metadata with the given id
func CountRoutersQuery(routerID string) Query {
	return NewQuery("SELECT COUNT(*) FROM mysql_innodb_cluster_metadata.routers WHERE router_id = ?", routerID)
}
