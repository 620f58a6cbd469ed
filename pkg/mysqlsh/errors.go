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

package mysqlsh

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-sql-driver/mysql"
)

// ConnectionErrorCode is the MySQL client error raised when the server can't be reached
const ConnectionErrorCode = 2003

// ErrConnection is returned when the upstream server can't be reached. The
// caller should wait for the next event.
var ErrConnection = errors.New("Failed to connect to MySQL Server. Will retry next event") // nolint: stylecheck

// Error contains the details of an exception raised by MySQL Shell
type Error struct {
	Code      int    `json:"code"`
	Message   string `json:"message"`
	Traceback string `json:"traceback_message"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("[mysqlsh]: code: %d msg: %s", e.Code, e.Message)
}

// Unwrap exposes the server error so callers can match on the error number
func (e *Error) Unwrap() error {
	return &mysql.MySQLError{Number: uint16(e.Code), Message: e.Message}
}

// parseError decodes the error file written by the script wrapper
func parseError(data []byte) error {
	shErr := &Error{}
	if err := json.Unmarshal(data, shErr); err != nil {
		return fmt.Errorf("failed to decode mysqlsh error: %s", err)
	}
	if shErr.Code == ConnectionErrorCode {
		return ErrConnection
	}
	return shErr
}

// IsConnectionError returns true for errors caused by an unreachable server
func IsConnectionError(err error) bool {
	if errors.Is(err, ErrConnection) {
		return true
	}
	var myErr *mysql.MySQLError
	return errors.As(err, &myErr) && myErr.Number == ConnectionErrorCode
}
