// Package discovery implements the API Descriptor: enumerating every
// watchable resource type the upstream API server exposes, the way
// kubectl/client-go's discovery client walks /api and /apis.
package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/pkg/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	domainerrors "github.com/resourcewatch/aggregator/internal/errors"
	"github.com/resourcewatch/aggregator/internal/transport"
)

// Descriptor is one watchable resource type, flattened out of the group/
// version/resource nesting the discovery endpoints return.
type Descriptor struct {
	Group      string
	Version    string
	Kind       string
	Plural     string
	Namespaced bool
}

// ListPath is the URL the watch loop lists/watches for this resource type.
func (d Descriptor) ListPath() string {
	if d.Group == "" {
		return fmt.Sprintf("/api/%s/%s", d.Version, d.Plural)
	}
	return fmt.Sprintf("/apis/%s/%s/%s", d.Group, d.Version, d.Plural)
}

type Discoverer struct {
	client *transport.Client
}

func NewDiscoverer(client *transport.Client) *Discoverer {
	return &Discoverer{client: client}
}

// DiscoverAll walks /api, /apis, and each group/version's resource list,
// returning every resource type that supports the "watch" verb.
func (d *Discoverer) DiscoverAll(ctx context.Context) ([]Descriptor, error) {
	var out []Descriptor

	coreVersions, err := d.coreVersions(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "discovery: listing core API versions")
	}
	for _, v := range coreVersions {
		resources, err := d.resourcesFor(ctx, "", v)
		if err != nil {
			return nil, errors.Wrapf(err, "discovery: listing resources for core/%s", v)
		}
		out = append(out, resources...)
	}

	groups, err := d.apiGroups(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "discovery: listing API groups")
	}
	for _, g := range groups.Groups {
		gv := g.PreferredVersion
		if gv.Version == "" && len(g.Versions) > 0 {
			gv = g.Versions[0]
		}
		resources, err := d.resourcesFor(ctx, g.Name, gv.Version)
		if err != nil {
			return nil, errors.Wrapf(err, "discovery: listing resources for %s/%s", g.Name, gv.Version)
		}
		out = append(out, resources...)
	}

	return out, nil
}

func (d *Discoverer) coreVersions(ctx context.Context) ([]string, error) {
	body, err := d.client.Get(ctx, "/api", nil)
	if err != nil {
		return nil, err
	}
	var versions metav1.APIVersions
	if err := json.Unmarshal(body, &versions); err != nil {
		return nil, domainerrors.NewMarshalingError(fmt.Sprintf("decoding /api: %v", err))
	}
	return versions.Versions, nil
}

func (d *Discoverer) apiGroups(ctx context.Context) (*metav1.APIGroupList, error) {
	body, err := d.client.Get(ctx, "/apis", nil)
	if err != nil {
		return nil, err
	}
	var list metav1.APIGroupList
	if err := json.Unmarshal(body, &list); err != nil {
		return nil, domainerrors.NewMarshalingError(fmt.Sprintf("decoding /apis: %v", err))
	}
	return &list, nil
}

func (d *Discoverer) resourcesFor(ctx context.Context, group, version string) ([]Descriptor, error) {
	path := fmt.Sprintf("/api/%s", version)
	if group != "" {
		path = fmt.Sprintf("/apis/%s/%s", group, version)
	}

	body, err := d.client.Get(ctx, path, nil)
	if err != nil {
		return nil, err
	}
	var list metav1.APIResourceList
	if err := json.Unmarshal(body, &list); err != nil {
		return nil, domainerrors.NewMarshalingError(fmt.Sprintf("decoding %s: %v", path, err))
	}

	var out []Descriptor
	for _, r := range list.APIResources {
		if strings.Contains(r.Name, "/") {
			continue // subresource, e.g. "pods/status" — not independently watchable
		}
		if !supportsWatch(r.Verbs) {
			continue
		}
		out = append(out, Descriptor{
			Group:      group,
			Version:    version,
			Kind:       r.Kind,
			Plural:     r.Name,
			Namespaced: r.Namespaced,
		})
	}
	return out, nil
}

func supportsWatch(verbs metav1.Verbs) bool {
	for _, v := range verbs {
		if v == "watch" {
			return true
		}
	}
	return false
}
