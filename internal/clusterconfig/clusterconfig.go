// Package clusterconfig resolves how to reach the upstream API server:
// TLS trust plus either an mTLS client identity or a bearer token. It
// follows the credential discovery order from spec §6: KUBECONFIG env var,
// then an in-cluster service account, then the default ~/.kube/config,
// wrapping client-go's clientcmd/rest packages rather than hand-parsing
// kubeconfig YAML.
package clusterconfig

import (
	"crypto/tls"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
	"k8s.io/client-go/util/homedir"
)

const (
	inClusterTokenFile = "/var/run/secrets/kubernetes.io/serviceaccount/token"
	inClusterCAFile    = "/var/run/secrets/kubernetes.io/serviceaccount/ca.crt"
)

// Resolved carries what the Transport Client needs, already decoded out of
// whichever credential source was found.
type Resolved struct {
	Host        string
	TLSConfig   *tls.Config
	BearerToken string
}

// ClusterConfigError wraps any failure to discover or load credentials.
type ClusterConfigError struct {
	Source string
	Err    error
}

func (e *ClusterConfigError) Error() string {
	return fmt.Sprintf("cluster config: %s: %v", e.Source, e.Err)
}

func (e *ClusterConfigError) Unwrap() error { return e.Err }

// Load follows the discovery order and resolves a *rest.Config, then
// converts it into the TLS/bearer shape the transport client consumes.
func Load(overridePath string) (*Resolved, error) {
	restCfg, source, err := loadRestConfig(overridePath)
	if err != nil {
		return nil, &ClusterConfigError{Source: source, Err: err}
	}
	return fromRESTConfig(restCfg, source)
}

func loadRestConfig(overridePath string) (*rest.Config, string, error) {
	if overridePath != "" {
		cfg, err := clientcmd.BuildConfigFromFlags("", overridePath)
		return cfg, "explicit kubeconfig path", err
	}

	if kc := os.Getenv("KUBECONFIG"); kc != "" {
		cfg, err := clientcmd.BuildConfigFromFlags("", kc)
		return cfg, "KUBECONFIG env var", err
	}

	if _, err := os.Stat(inClusterTokenFile); err == nil {
		cfg, err := rest.InClusterConfig()
		return cfg, "in-cluster service account", err
	}

	defaultPath := filepath.Join(homedir.HomeDir(), ".kube", "config")
	cfg, err := clientcmd.BuildConfigFromFlags("", defaultPath)
	return cfg, "default kubeconfig path", err
}

func fromRESTConfig(cfg *rest.Config, source string) (*Resolved, error) {
	tlsCfg, err := rest.TLSConfigFor(cfg)
	if err != nil {
		return nil, &ClusterConfigError{Source: source, Err: errors.Wrap(err, "building TLS config")}
	}

	bearer := cfg.BearerToken
	if bearer == "" && cfg.BearerTokenFile != "" {
		data, err := os.ReadFile(cfg.BearerTokenFile)
		if err != nil {
			return nil, &ClusterConfigError{Source: source, Err: errors.Wrap(err, "reading bearer token file")}
		}
		bearer = string(data)
	}

	return &Resolved{
		Host:        cfg.Host,
		TLSConfig:   tlsCfg,
		BearerToken: bearer,
	}, nil
}
