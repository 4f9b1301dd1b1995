package world

import "github.com/swarmwarden/swarmwarden/internal/driver"

// Both ClientDriver implementations also satisfy ScanSource.
var (
	_ ScanSource = (*driver.Mock)(nil)
	_ ScanSource = (*driver.NATSBridge)(nil)
)
