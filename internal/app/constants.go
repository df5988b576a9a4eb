package app

const (
	Name             = "meshreplier"
	ConfigFilename   = "config.json"
	DotEnvFilename   = ".env"
	DBFilename       = "nodes.db"
	LogFilename      = "meshreplier.log"
	LedgerFilename   = "contacted_nodes.txt"
	WriterQueueSize  = 512
	EventBusCapacity = 256
)
