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
	"fmt"
	"strings"
	"time"

	"github.com/Pallinder/go-randomdata"
	"github.com/imdario/mergo"

	v1 "github.com/labondemand/labondemand/pkg/apis/v1"
	"github.com/labondemand/labondemand/pkg/store"
)

// User creates a test user with defaults that can be overridden by the
// passed options. Overrides are applied in order, with a last write wins
// semantic.
func User(overrides ...store.User) *store.User {
	options := store.User{}
	for _, opts := range overrides {
		if err := mergo.Merge(&options, opts, mergo.WithOverride); err != nil {
			panic(fmt.Sprintf("Failed to merge user options: %s", err.Error()))
		}
	}
	if options.Username == "" {
		options.Username = strings.ToLower(randomdata.SillyName())
	}
	if options.Role == "" {
		options.Role = string(v1.RoleStudent)
	}
	if options.AuthProvider == "" {
		options.AuthProvider = "local"
	}
	if options.CreatedAt.IsZero() {
		options.CreatedAt = time.Now().UTC()
	}
	return &options
}

// DeploymentRecord creates a test deployment row.
func DeploymentRecord(overrides ...store.Deployment) *store.Deployment {
	options := store.Deployment{}
	for _, opts := range overrides {
		if err := mergo.Merge(&options, opts, mergo.WithOverride); err != nil {
			panic(fmt.Sprintf("Failed to merge deployment options: %s", err.Error()))
		}
	}
	if options.Name == "" {
		options.Name = strings.ToLower(randomdata.SillyName())
	}
	if options.Stack == "" {
		options.Stack = string(v1.StackCustom)
	}
	if options.Status == "" {
		options.Status = string(v1.StatusActive)
	}
	if options.CreatedAt.IsZero() {
		options.CreatedAt = time.Now().UTC()
	}
	if options.PodsRequested == 0 {
		options.PodsRequested = 1
	}
	return &options
}

// Template creates a test catalog template.
func Template(overrides ...store.Template) *store.Template {
	options := store.Template{}
	for _, opts := range overrides {
		if err := mergo.Merge(&options, opts, mergo.WithOverride); err != nil {
			panic(fmt.Sprintf("Failed to merge template options: %s", err.Error()))
		}
	}
	if options.Key == "" {
		options.Key = strings.ToLower(randomdata.SillyName())
	}
	if options.DisplayName == "" {
		options.DisplayName = options.Key
	}
	if options.Image == "" {
		options.Image = "docker.io/library/nginx:stable"
	}
	if options.Port == 0 {
		options.Port = 80
	}
	if options.ServiceType == "" {
		options.ServiceType = "ClusterIP"
	}
	if options.CreatedAt.IsZero() {
		options.CreatedAt = time.Now().UTC()
	}
	return &options
}

// RuntimeConfig creates a test runtime floor configuration.
func RuntimeConfig(overrides ...store.RuntimeConfig) *store.RuntimeConfig {
	options := store.RuntimeConfig{}
	for _, opts := range overrides {
		if err := mergo.Merge(&options, opts, mergo.WithOverride); err != nil {
			panic(fmt.Sprintf("Failed to merge runtime config options: %s", err.Error()))
		}
	}
	if options.Key == "" {
		options.Key = string(v1.StackCustom)
	}
	if options.CreatedAt.IsZero() {
		options.CreatedAt = time.Now().UTC()
	}
	return &options
}
