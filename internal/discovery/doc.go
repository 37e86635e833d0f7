// Package discovery advertises this device and finds peers on the local
// network over mDNS/DNS-SD.
//
// A device that holds a pairing server advertises one service instance of
// type _shardlink._tcp whose TXT record carries:
//
//	distributionId=<distribution the device serves>
//	globalId=<device identity>
//	name=<display name>
//	platform=<os or device class>
//
// Scan browses in repeated cycles and emits a ServiceFound for every valid
// instance seen in each cycle, so a peer that stays online is reported more
// than once. Consumers de-duplicate. Instances carrying this device's own
// identity are never reported.
package discovery
