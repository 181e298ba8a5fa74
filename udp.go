// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package pointbus

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/ipv4"
)

const (
	udpReadPoll       = 100 * time.Millisecond
	udpMaxDatagram    = 65536
	udpMulticastTTL   = 1
	udpSocketRcvBytes = 2 * 1024 * 1024
)

// Datagram layout: [1 group len][group][payload].
func encodeDatagram(group string, data []byte) ([]byte, error) {
	if len(group) > MaxGroupLen {
		return nil, fmt.Errorf("%w: %q", ErrGroupTooLong, group)
	}
	buf := make([]byte, 1+len(group)+len(data))
	buf[0] = byte(len(group))
	copy(buf[1:], group)
	copy(buf[1+len(group):], data)
	return buf, nil
}

func decodeDatagram(buf []byte) (Datagram, error) {
	if len(buf) < 1 {
		return Datagram{}, errors.New("udp: empty datagram")
	}
	n := int(buf[0])
	if n > MaxGroupLen || len(buf) < 1+n {
		return Datagram{}, errors.New("udp: bad group header")
	}
	data := make([]byte, len(buf)-1-n)
	copy(data, buf[1+n:])
	return Datagram{Group: string(buf[1 : 1+n]), Data: data}, nil
}

func lookupInterface(name string) (*net.Interface, error) {
	if name == "" {
		return nil, nil
	}
	ifi, err := net.InterfaceByName(name)
	if err != nil {
		return nil, fmt.Errorf("udp interface %q: %w", name, err)
	}
	return ifi, nil
}

type udpRadio struct {
	conn *net.UDPConn
}

// radioUDP connects to a unicast or multicast destination. For multicast
// destinations the ";iface" suffix selects the outgoing interface.
func radioUDP(_ *Context, ep Endpoint) (Radio, error) {
	raddr, err := net.ResolveUDPAddr("udp4", ep.Target())
	if err != nil {
		return nil, fmt.Errorf("%w: udp resolve %s: %v", ErrConnectRefused, ep.Target(), err)
	}
	ifi, err := lookupInterface(ep.Interface())
	if err != nil {
		return nil, err
	}
	conn, err := net.DialUDP("udp4", nil, raddr)
	if err != nil {
		return nil, fmt.Errorf("%w: udp dial %s: %v", ErrConnectRefused, ep.Target(), err)
	}
	if raddr.IP.IsMulticast() {
		pc := ipv4.NewPacketConn(conn)
		if ifi != nil {
			if err := pc.SetMulticastInterface(ifi); err != nil {
				conn.Close()
				return nil, fmt.Errorf("udp multicast interface: %w", err)
			}
		}
		_ = pc.SetMulticastTTL(udpMulticastTTL)
		_ = pc.SetMulticastLoopback(true)
	}
	return &udpRadio{conn: conn}, nil
}

func (r *udpRadio) Send(ctx context.Context, group string, data []byte) error {
	buf, err := encodeDatagram(group, data)
	if err != nil {
		return err
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = r.conn.SetWriteDeadline(deadline)
	}
	_, err = r.conn.Write(buf)
	return err
}

func (r *udpRadio) Close() error {
	return r.conn.Close()
}

type udpDish struct {
	conn   *net.UDPConn
	pc     *ipv4.PacketConn
	logger *zap.Logger

	mu     sync.RWMutex
	groups map[string]struct{}
	buf    []byte
}

// dishUDP binds the endpoint port. A multicast host is joined on the
// ";iface" interface (or the system default); any other host is bound as is.
func dishUDP(c *Context, ep Endpoint) (Dish, error) {
	laddr, err := net.ResolveUDPAddr("udp4", ep.Target())
	if err != nil {
		return nil, fmt.Errorf("udp resolve %s: %w", ep.Target(), err)
	}
	ifi, err := lookupInterface(ep.Interface())
	if err != nil {
		return nil, err
	}

	bind := laddr
	if laddr.IP.IsMulticast() {
		bind = &net.UDPAddr{IP: net.IPv4zero, Port: laddr.Port}
	}
	lc := net.ListenConfig{Control: reusePort}
	pconn, err := lc.ListenPacket(context.Background(), "udp4", bind.String())
	if err != nil {
		return nil, fmt.Errorf("udp bind %s: %w", bind, err)
	}
	conn := pconn.(*net.UDPConn)

	d := &udpDish{
		conn:   conn,
		pc:     ipv4.NewPacketConn(conn),
		logger: c.logger.With(zap.String("bind", conn.LocalAddr().String())),
		groups: make(map[string]struct{}),
		buf:    make([]byte, udpMaxDatagram),
	}
	if err := conn.SetReadBuffer(udpSocketRcvBytes); err != nil {
		d.logger.Warn("could not set udp read buffer", zap.Error(err))
	}
	if laddr.IP.IsMulticast() {
		if err := d.pc.JoinGroup(ifi, &net.UDPAddr{IP: laddr.IP}); err != nil {
			conn.Close()
			return nil, fmt.Errorf("udp join %s: %w", laddr.IP, err)
		}
	}
	return d, nil
}

func (d *udpDish) Join(group string) error {
	if len(group) > MaxGroupLen {
		return fmt.Errorf("%w: %q", ErrGroupTooLong, group)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.groups[group] = struct{}{}
	return nil
}

// Recv polls with a short read deadline so ctx cancellation is observed.
// Datagrams for groups that were not joined, or with a bad header, are dropped.
func (d *udpDish) Recv(ctx context.Context) (Datagram, error) {
	for {
		if err := ctx.Err(); err != nil {
			return Datagram{}, err
		}
		_ = d.conn.SetReadDeadline(time.Now().Add(udpReadPoll))
		n, _, err := d.conn.ReadFromUDP(d.buf)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			if errors.Is(err, net.ErrClosed) {
				return Datagram{}, ErrClosed
			}
			return Datagram{}, err
		}
		dg, err := decodeDatagram(d.buf[:n])
		if err != nil {
			d.logger.Debug("dropping datagram", zap.Error(err))
			continue
		}
		d.mu.RLock()
		_, ok := d.groups[dg.Group]
		d.mu.RUnlock()
		if ok {
			return dg, nil
		}
	}
}

func (d *udpDish) Addr() string {
	return SchemeUDP + "://" + d.conn.LocalAddr().String()
}

func (d *udpDish) Close() error {
	return d.conn.Close()
}
