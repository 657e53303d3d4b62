package kubernetes

import (
	"fmt"

	"faas-controller/internal/config"
	"faas-controller/internal/core/functions"

	"github.com/rs/zerolog"
	"k8s.io/client-go/dynamic"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
)

// ClusterSet maps each region to the client for its cluster context.
type ClusterSet struct {
	clients       map[string]*Client
	defaultRegion string
}

// NewClusterSet builds one client per configured region. A region without a kubeconfig
// context uses the in-cluster service account.
func NewClusterSet(cfg config.Config, lg zerolog.Logger) (*ClusterSet, error) {
	set := &ClusterSet{
		clients:       make(map[string]*Client, len(cfg.Regions)),
		defaultRegion: cfg.DefaultRegion,
	}
	opts := Options{
		Namespace:    cfg.Namespace,
		PollAttempts: cfg.PollAttempts,
		PollInterval: cfg.PollInterval,
	}
	for _, region := range cfg.Regions {
		restCfg, err := restConfig(cfg.Kubeconfig, region.Context)
		if err != nil {
			return nil, fmt.Errorf("region %s: %w", region.Name, err)
		}
		dyn, err := dynamic.NewForConfig(restCfg)
		if err != nil {
			return nil, fmt.Errorf("region %s: failed to create dynamic client: %w", region.Name, err)
		}
		set.clients[region.Name] = New(dyn, opts, lg.With().Str("region", region.Name).Logger())
		lg.Info().Str("region", region.Name).Str("context", region.Context).Msg("registered cluster")
	}
	return set, nil
}

// NewClusterSetFromClients is used when the dynamic clients are built elsewhere.
func NewClusterSetFromClients(defaultRegion string, clients map[string]*Client) *ClusterSet {
	return &ClusterSet{clients: clients, defaultRegion: defaultRegion}
}

func restConfig(kubeconfig, context string) (*rest.Config, error) {
	if context == "" {
		cfg, err := rest.InClusterConfig()
		if err != nil {
			return nil, fmt.Errorf("failed to get in-cluster config: %w", err)
		}
		return cfg, nil
	}
	rules := clientcmd.NewDefaultClientConfigLoadingRules()
	if kubeconfig != "" {
		rules.ExplicitPath = kubeconfig
	}
	cfg, err := clientcmd.NewNonInteractiveDeferredLoadingClientConfig(
		rules, &clientcmd.ConfigOverrides{CurrentContext: context},
	).ClientConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load kubeconfig context %q: %w", context, err)
	}
	return cfg, nil
}

func (s *ClusterSet) Orchestrator(region string) (functions.Orchestrator, error) {
	c, ok := s.clients[region]
	if !ok {
		return nil, fmt.Errorf("%w: unknown region %q", functions.ErrValidation, region)
	}
	return c, nil
}

func (s *ClusterSet) DefaultRegion() string { return s.defaultRegion }
