package goble

import (
	"sort"
	"sync"
	"sync/atomic"

	"github.com/go-ble/ble"
	"github.com/srg/blecentral/internal/device"
)

type linkService struct {
	uuid  string
	chars []string
}

// link is one live connection and its discovered GATT profile, indexed by normalized UUID
type link struct {
	client   ble.Client
	services []linkService
	chars    map[string]*ble.Characteristic
	writeMu  sync.Mutex
	closed   atomic.Bool
}

func newLink(client ble.Client, profile *ble.Profile) *link {
	l := &link{
		client: client,
		chars:  make(map[string]*ble.Characteristic),
	}
	for _, svc := range profile.Services {
		s := linkService{uuid: device.NormalizeUUID(svc.UUID.String())}
		for _, c := range svc.Characteristics {
			uuid := device.NormalizeUUID(c.UUID.String())
			if _, dup := l.chars[uuid]; dup {
				continue
			}
			l.chars[uuid] = c
			s.chars = append(s.chars, uuid)
		}
		l.services = append(l.services, s)
	}
	return l
}

// close marks the link closed and reports whether this call closed it
func (l *link) close() bool {
	return l.closed.CompareAndSwap(false, true)
}

func (l *link) characteristics(serviceUUID string) []device.Characteristic {
	out := []device.Characteristic{}
	for _, s := range l.services {
		if serviceUUID != "" && s.uuid != serviceUUID {
			continue
		}
		for _, uuid := range s.chars {
			out = append(out, device.Characteristic{
				ServiceUUID:  s.uuid,
				UUID:         uuid,
				Capabilities: capabilitiesOf(l.chars[uuid].Property),
			})
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].ServiceUUID != out[j].ServiceUUID {
			return out[i].ServiceUUID < out[j].ServiceUUID
		}
		return out[i].UUID < out[j].UUID
	})
	return out
}
