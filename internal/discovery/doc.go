// Package discovery finds and advertises BLUFI WebSocket gateways over mDNS.
//
// Gateways (BLE bridges and the device emulator) register the
// "_blufi._tcp" service type. TXT records describe the endpoint:
//
//	path=/blufi   WebSocket path
//	mtu=185       link MTU the gateway reports
//	tls=1         endpoint expects wss://
//
// # Usage Example
//
//	scanner := discovery.NewScanner()
//	gateways, err := scanner.ScanForGateways(ctx)
//	if err != nil {
//	    return err
//	}
//	for _, g := range gateways {
//	    fmt.Println(g.Instance, g.URL())
//	}
//
// # Network Requirements
//
// - Requires multicast support on the network interface
// - Gateways must be on the same local network segment
// - Firewall must allow mDNS (UDP port 5353)
package discovery
