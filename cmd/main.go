/*
Copyright 2025.

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

package main

import (
	"os"

	"github.com/spf13/cobra"

	// Import all Kubernetes client auth plugins (e.g. Azure, GCP, OIDC, etc.)
	// to ensure that exec-entrypoint and run can make use of them.
	_ "k8s.io/client-go/plugin/pkg/client/auth"

	ctrl "sigs.k8s.io/controller-runtime"

	"github.com/dc-tec/kafka-cluster-operator/cmd/controller"
)

var (
	setupLog = ctrl.Log.WithName("setup")
)

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:          "kafka-cluster-operator",
		Short:        "Manage Kafka clusters described by ConfigMaps",
		SilenceUsage: true,
	}
	root.AddCommand(controller.NewCommand())
	return root
}

func main() {
	if err := newRootCommand().ExecuteContext(ctrl.SetupSignalHandler()); err != nil {
		setupLog.Error(err, "command failed")
		os.Exit(1)
	}
}
