package cluster

import (
	"sort"

	"k8s.io/client-go/tools/clientcmd"
)

// KubeconfigContexts lists the context names in the active kubeconfig
// (honoring KUBECONFIG and the default loading rules). A missing
// kubeconfig yields an empty list, not an error: no contexts simply means
// no externally-managed cluster to reuse.
func KubeconfigContexts() ([]string, error) {
	rules := clientcmd.NewDefaultClientConfigLoadingRules()
	config, err := rules.Load()
	if err != nil {
		return nil, err
	}

	contexts := make([]string, 0, len(config.Contexts))
	for name := range config.Contexts {
		contexts = append(contexts, name)
	}
	sort.Strings(contexts)
	return contexts, nil
}
