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

package controllers

import (
	"context"

	"github.com/awslabs/operatorpkg/controller"
	"k8s.io/utils/clock"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"github.com/labondemand/labondemand/pkg/audit"
	"github.com/labondemand/labondemand/pkg/controllers/lifecycle"
	"github.com/labondemand/labondemand/pkg/orchestrator"
	"github.com/labondemand/labondemand/pkg/store"
)

func NewControllers(_ context.Context, clk clock.Clock, kubeClient client.Client, s *store.Store,
	recorder audit.Recorder, o *orchestrator.Orchestrator) []controller.Controller {
	return []controller.Controller{
		lifecycle.NewController(kubeClient, s, clk, recorder, o),
	}
}
