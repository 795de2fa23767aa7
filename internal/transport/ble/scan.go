package ble

import (
	"context"
	"sort"
	"sync"

	"tinygo.org/x/bluetooth"
)

// Advertisement is a device seen during a scan.
type Advertisement struct {
	Name    string
	Address string
	RSSI    int16
	BLUFI   bool // advertises the BLUFI service UUID
}

// scan runs a scan until match returns true or ctx is done.
func scan(ctx context.Context, a *bluetooth.Adapter, match func(bluetooth.ScanResult) bool) error {
	var stopOnce sync.Once
	stop := func() { stopOnce.Do(func() { _ = a.StopScan() }) }

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			stop()
		case <-done:
		}
	}()

	return a.Scan(func(_ *bluetooth.Adapter, r bluetooth.ScanResult) {
		if match(r) {
			stop()
		}
	})
}

// Scan lists advertising devices until ctx is done. Devices are keyed by
// address; the strongest RSSI seen is kept. Results are sorted with BLUFI
// devices first, then by signal strength.
func (d *Dialer) Scan(ctx context.Context) ([]Advertisement, error) {
	a, err := d.adapter()
	if err != nil {
		return nil, err
	}
	ctx, cancel := d.withTimeout(ctx)
	defer cancel()

	var mu sync.Mutex
	seen := make(map[string]Advertisement)
	err = scan(ctx, a, func(r bluetooth.ScanResult) bool {
		ad := Advertisement{
			Name:    r.LocalName(),
			Address: r.Address.String(),
			RSSI:    r.RSSI,
			BLUFI:   r.HasServiceUUID(ServiceUUID),
		}
		mu.Lock()
		defer mu.Unlock()
		if prev, ok := seen[ad.Address]; ok {
			if prev.RSSI > ad.RSSI {
				ad.RSSI = prev.RSSI
			}
			if ad.Name == "" {
				ad.Name = prev.Name
			}
			ad.BLUFI = ad.BLUFI || prev.BLUFI
		}
		seen[ad.Address] = ad
		return false
	})
	if err != nil {
		return nil, err
	}

	mu.Lock()
	defer mu.Unlock()
	return sortAdvertisements(seen), nil
}

func sortAdvertisements(seen map[string]Advertisement) []Advertisement {
	out := make([]Advertisement, 0, len(seen))
	for _, ad := range seen {
		out = append(out, ad)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].BLUFI != out[j].BLUFI {
			return out[i].BLUFI
		}
		if out[i].RSSI != out[j].RSSI {
			return out[i].RSSI > out[j].RSSI
		}
		return out[i].Address < out[j].Address
	})
	return out
}
