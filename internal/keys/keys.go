// Package keys composes the hot-store key namespace. Every key has the
// shape <prefix><tenant>:<namespace>:<kind>:<name> with a fixed set of
// kinds, so keys of different kinds can never collide.
package keys

// Kinds of hot-store keys owned by the broker.
const (
	KindSharedMemory = "sm"
	KindTopic        = "topic"
	KindSub          = "sub"
	KindRetry        = "retry"
	KindDLQ          = "dlq"
)

// DefaultPrefix is prepended to every key unless overridden.
const DefaultPrefix = "cw:"

// Namer builds keys for one (tenant, namespace) pair.
type Namer struct {
	Prefix    string
	Tenant    string
	Namespace string
}

// New returns a Namer with defaults applied ("cw:", "default", "default").
func New(prefix, tenant, namespace string) Namer {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	if tenant == "" {
		tenant = "default"
	}
	if namespace == "" {
		namespace = "default"
	}
	return Namer{Prefix: prefix, Tenant: tenant, Namespace: namespace}
}

// With returns a copy scoped to a different (tenant, namespace), keeping
// the prefix. Empty arguments keep the current values.
func (n Namer) With(tenant, namespace string) Namer {
	if tenant != "" {
		n.Tenant = tenant
	}
	if namespace != "" {
		n.Namespace = namespace
	}
	return n
}

func (n Namer) compose(kind, name string) string {
	return n.Prefix + n.Tenant + ":" + n.Namespace + ":" + kind + ":" + name
}

// SharedMemory is the key of one shared-memory value.
func (n Namer) SharedMemory(name string) string {
	return n.compose(KindSharedMemory, name)
}

// Topic is the key of a topic's log.
func (n Namer) Topic(topic string) string {
	return n.compose(KindTopic, topic)
}

// Retry is the key of the retry sorted-set for (topic, subscription).
func (n Namer) Retry(topic, subscription string) string {
	return n.compose(KindRetry, topic+":"+subscription)
}

// DLQ is the key of a topic's dead-letter log.
func (n Namer) DLQ(topic string) string {
	return n.compose(KindDLQ, topic)
}

// Group is the consumer-group name of a subscription.
func (n Namer) Group(subscription string) string {
	return "sub:" + subscription
}

// SubscriptionConfig is the hash key holding a subscription's persisted
// configuration.
func (n Namer) SubscriptionConfig(topic, subscription string) string {
	return n.Topic(topic) + ":sub:" + subscription + ":config"
}
