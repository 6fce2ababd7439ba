// Package pcap opens the engine's capture sources: a live network
// interface or an offline savefile, both via google/gopacket/pcap,
// generalized into the scheme registry §6 describes (a live interface,
// a single savefile, or a directory of savefiles).
package pcap

import (
	"github.com/google/gopacket/pcap"
	"github.com/pkg/errors"
)

// defaultSnapLen matches tcpdump's default.
const defaultSnapLen = 262144

// OpenLive opens a live interface for capture, applying bpf (if
// non-empty) as a BPF filter. snapLen <= 0 falls back to
// defaultSnapLen. The returned *pcap.Handle satisfies engine.Source.
func OpenLive(iface string, snapLen int, bpf string) (*pcap.Handle, error) {
	if snapLen <= 0 {
		snapLen = defaultSnapLen
	}
	handle, err := pcap.OpenLive(iface, int32(snapLen), true, pcap.BlockForever)
	if err != nil {
		return nil, errors.Wrapf(err, "pcap: failed to open live capture on %s", iface)
	}
	if bpf != "" {
		if err := handle.SetBPFFilter(bpf); err != nil {
			handle.Close()
			return nil, errors.Wrapf(err, "pcap: failed to set BPF filter %q", bpf)
		}
	}
	return handle, nil
}

// OpenOffline opens a libpcap savefile (classic or pcapng-via-libpcap, per
// spec §6's documented capture input formats) for replay.
func OpenOffline(path string) (*pcap.Handle, error) {
	handle, err := pcap.OpenOffline(path)
	if err != nil {
		return nil, errors.Wrapf(err, "pcap: failed to open savefile %s", path)
	}
	return handle, nil
}
