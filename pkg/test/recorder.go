/*
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

package test

import (
	"context"
	"sync"

	"github.com/samber/lo"

	"github.com/labondemand/labondemand/pkg/audit"
)

// Recorder captures published audit events so specs can assert on them.
type Recorder struct {
	mu     sync.Mutex
	events []audit.Event
}

func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) Publish(_ context.Context, evt audit.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
}

// Events returns the captured events carrying the given name.
func (r *Recorder) Events(name string) []audit.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return lo.Filter(r.events, func(e audit.Event, _ int) bool { return e.Name == name })
}
