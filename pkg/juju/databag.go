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

package juju

import (
	"fmt"
	"sort"

	"github.com/pkg/errors"
)

// IncompleteDatabagError is returned when a remote databag is missing keys
type IncompleteDatabagError struct {
	App      string
	Endpoint string
	Missing  []string
}

func (e *IncompleteDatabagError) Error() string {
	return fmt.Sprintf("%s app on %s endpoint has incomplete databag, missing %v", e.App, e.Endpoint, e.Missing)
}

// Status returns the waiting status reported for an incomplete databag
func (e *IncompleteDatabagError) Status() *Status {
	return WaitingStatus(fmt.Sprintf("Waiting for %s app on %s endpoint", e.App, e.Endpoint))
}

// Databag is a key-value bag of a relation. Reads are served from a snapshot
// taken on first load and writes go straight to the controller.
type Databag struct {
	backend    Backend
	relationID int
	owner      string
	app        bool
	writable   bool

	loaded bool
	data   map[string]string
}

// Load reads the databag content once
func (d *Databag) Load() error {
	if d.loaded {
		return nil
	}

	data, err := d.backend.RelationGet(d.relationID, d.owner, d.app)
	if err != nil {
		return errors.Wrapf(err, "failed to read databag of %s in relation %d", d.owner, d.relationID)
	}
	if data == nil {
		data = map[string]string{}
	}

	d.data = data
	d.loaded = true
	return nil
}

// Get returns the value of a key or empty string
func (d *Databag) Get(key string) string {
	return d.data[key]
}

// Keys returns the sorted keys of the databag
func (d *Databag) Keys() []string {
	keys := make([]string, 0, len(d.data))
	for k := range d.data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Set writes the given keys, empty values delete keys. Unchanged keys are
// not written again.
func (d *Databag) Set(values map[string]string) error {
	if !d.writable {
		return fmt.Errorf("databag of %s in relation %d is read-only", d.owner, d.relationID)
	}
	if err := d.Load(); err != nil {
		return err
	}

	changes := map[string]string{}
	for k, v := range values {
		if old, ok := d.data[k]; (ok && old == v) || (!ok && v == "") {
			continue
		}
		changes[k] = v
	}
	if len(changes) == 0 {
		return nil
	}

	if err := d.backend.RelationSet(d.relationID, d.app, changes); err != nil {
		return errors.Wrapf(err, "failed to write databag in relation %d", d.relationID)
	}

	for k, v := range changes {
		if v == "" {
			delete(d.data, k)
		} else {
			d.data[k] = v
		}
	}
	return nil
}

// Delete removes the given keys
func (d *Databag) Delete(keys ...string) error {
	values := map[string]string{}
	for _, k := range keys {
		values[k] = ""
	}
	return d.Set(values)
}

// Clear removes all keys
func (d *Databag) Clear() error {
	if err := d.Load(); err != nil {
		return err
	}
	return d.Delete(d.Keys()...)
}
