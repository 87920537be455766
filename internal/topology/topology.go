// Package topology resolves CLUSTER_TOPOLOGY_QUERY (§6) into a list
// of peer node addresses via the Kubernetes API, the way a clustered
// aistore target discovers its siblings — list Pods matching a label
// selector in the target namespace rather than relying on static config.
package topology

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"

	"github.com/adiibanez/sensocto/internal/cmn/nlog"
)

// Peer is one other node in the cluster, as resolved from the topology
// query.
type Peer struct {
	NodeName string
	PodIP    string
}

// Resolver refreshes the peer list on a timer by querying Kubernetes.
type Resolver struct {
	clientset *kubernetes.Clientset
	namespace string
	selector  string
	selfName  string

	mu    sync.RWMutex
	peers []Peer
}

// Query is the parsed form of CLUSTER_TOPOLOGY_QUERY, e.g.
// "namespace=sensocto,label=app.kubernetes.io/name=sensoctod".
type Query struct {
	Namespace string
	Selector  string
}

// ParseQuery accepts a comma-separated key=value query string.
func ParseQuery(raw string) Query {
	q := Query{Namespace: "default"}
	for _, part := range strings.Split(raw, ",") {
		kv := strings.SplitN(strings.TrimSpace(part), "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch kv[0] {
		case "namespace":
			q.Namespace = kv[1]
		case "label":
			q.Selector = kv[1]
		}
	}
	return q
}

// NewInCluster builds a Resolver using the in-cluster service account
// config (the only supported mode: sensoctod always runs inside the
// cluster it's resolving).
func NewInCluster(query Query, selfName string) (*Resolver, error) {
	cfg, err := rest.InClusterConfig()
	if err != nil {
		return nil, fmt.Errorf("topology: in-cluster config: %w", err)
	}
	cs, err := kubernetes.NewForConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("topology: client: %w", err)
	}
	return &Resolver{
		clientset: cs,
		namespace: query.Namespace,
		selector:  query.Selector,
		selfName:  selfName,
	}, nil
}

// Run refreshes the peer list every period until ctx is cancelled.
func (r *Resolver) Run(ctx context.Context, period time.Duration) error {
	if period <= 0 {
		period = 15 * time.Second
	}
	r.refresh(ctx)
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			r.refresh(ctx)
		}
	}
}

func (r *Resolver) refresh(ctx context.Context) {
	pods, err := r.clientset.CoreV1().Pods(r.namespace).List(ctx, metav1.ListOptions{
		LabelSelector: r.selector,
	})
	if err != nil {
		nlog.Warnf("topology: list pods: %v", err)
		return
	}
	peers := make([]Peer, 0, len(pods.Items))
	for _, p := range pods.Items {
		if p.Spec.NodeName == r.selfName || p.Status.Phase != corev1.PodRunning {
			continue
		}
		if p.Status.PodIP == "" {
			continue
		}
		peers = append(peers, Peer{NodeName: p.Name, PodIP: p.Status.PodIP})
	}
	r.swap(peers)
}

func (r *Resolver) swap(peers []Peer) {
	r.mu.Lock()
	r.peers = peers
	r.mu.Unlock()
}

// Peers returns the last-resolved peer list.
func (r *Resolver) Peers() []Peer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Peer, len(r.peers))
	copy(out, r.peers)
	return out
}
