/*
Copyright 2024 QZD Finance Authors.

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

package qzd

import (
	"errors"
	"fmt"
	"sync"
)

// CrashPoint is a place in job execution where a simulated crash can be injected.
type CrashPoint string

const (
	// CrashBeforeCommit fails the attempt before any state changes.
	CrashBeforeCommit CrashPoint = "before_commit"
	// CrashAfterCommit fails the attempt after the transaction is committed but before the
	// journal learns about it.
	CrashAfterCommit CrashPoint = "after_commit"
)

var ErrSimulatedCrash = errors.New("simulated crash")

type fault struct {
	kind  JobKind
	point CrashPoint
}

// FaultInjector arms one-shot failures for operator drills and tests.
type FaultInjector struct {
	mu     sync.Mutex
	armed  map[fault]bool
	panics map[fault]bool
}

// NewFaultInjector returns an injector with no faults armed.
func NewFaultInjector() *FaultInjector {
	return &FaultInjector{armed: make(map[fault]bool), panics: make(map[fault]bool)}
}

// SimulateCrash makes the next execution of kind return an error at point.
func (f *FaultInjector) SimulateCrash(kind JobKind, point CrashPoint) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.armed[fault{kind, point}] = true
}

// SimulatePanic makes the next execution of kind panic at point.
func (f *FaultInjector) SimulatePanic(kind JobKind, point CrashPoint) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.panics[fault{kind, point}] = true
}

func (f *FaultInjector) trigger(kind JobKind, point CrashPoint) error {
	key := fault{kind, point}

	f.mu.Lock()
	crash := f.armed[key]
	panicking := f.panics[key]
	delete(f.armed, key)
	delete(f.panics, key)
	f.mu.Unlock()

	if panicking {
		panic(fmt.Sprintf("simulated panic in %s at %s", kind, point))
	}
	if crash {
		return fmt.Errorf("%w in %s at %s", ErrSimulatedCrash, kind, point)
	}
	return nil
}
