package messaging

// Default topics
const (
	TopicShares = "miner.shares" // share events, protobuf Struct
	TopicStats  = "miner.stats"  // stats snapshots, JSON
)

// ZMQTopicStats prefixes stats frames on the PUB socket.
const ZMQTopicStats = "stats"
