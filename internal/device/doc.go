// Package device defines the transport-neutral view of a BLE peripheral used by
// the probe client: address parsing, UUID normalization, the Link and Connector
// interfaces implemented by the BLE backends, and the structured connection errors
// those backends report.
package device
