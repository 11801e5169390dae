package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/progeek/gpsd-influxdb/pkg/gpsd"
)

// sessionInfo is the part of gpsd.Client the device command prints.
type sessionInfo interface {
	Version() *gpsd.Version
	Devices() []gpsd.Device
	DeviceInfo() (gpsd.DeviceInfo, error)
}

// printSnapshot writes every query whose fix requirement is met; the
// others are listed with the reason they are unavailable.
func printSnapshot(w io.Writer, s gpsd.Snapshot) {
	fmt.Fprintf(w, "Fix:        %s\n", s.FixLabel())
	fmt.Fprintf(w, "Satellites: %d (%d used)\n", s.Satellites, s.SatellitesUsed)
	fmt.Fprintf(w, "DOP:        h %.2f  v %.2f  p %.2f\n", s.HDOP, s.VDOP, s.PDOP)

	if ts, err := s.Timestamp(false); err == nil {
		fmt.Fprintf(w, "Time:       %s\n", ts.Format(gpsd.TimeLayout))
	} else {
		printUnavailable(w, "Time", err)
	}
	if lat, lon, err := s.Position(); err == nil {
		fmt.Fprintf(w, "Position:   %.6f, %.6f\n", lat, lon)
	} else {
		printUnavailable(w, "Position", err)
	}
	if h, v, err := s.PositionPrecision(); err == nil {
		fmt.Fprintf(w, "Precision:  h %.1f m  v %.1f m\n", h, v)
	}
	if alt, err := s.AltitudeMeters(); err == nil {
		fmt.Fprintf(w, "Altitude:   %.1f m\n", alt)
	} else {
		printUnavailable(w, "Altitude", err)
	}
	if m, err := s.Movement(); err == nil {
		fmt.Fprintf(w, "Movement:   %.2f m/s @ %.1f°, climb %.2f m/s\n", m.Speed, m.Track, m.Climb)
	}
	if gs, err := s.GroundSpeed(); err == nil {
		fmt.Fprintf(w, "Ground:     %.2f m/s\n", gs)
	}
	if vs, err := s.VerticalSpeed(); err == nil {
		fmt.Fprintf(w, "Vertical:   %.2f m/s\n", vs)
	}
	if url, err := s.MapURL(); err == nil {
		fmt.Fprintf(w, "Map:        %s\n", url)
	}
}

func printUnavailable(w io.Writer, label string, err error) {
	var fixErr *gpsd.InsufficientFixError
	if errors.As(err, &fixErr) {
		fmt.Fprintf(w, "%-11s (%s)\n", label+":", fixErr.Reason)
		return
	}
	fmt.Fprintf(w, "%-11s error: %v\n", label+":", err)
}

func printDevice(w io.Writer, c sessionInfo) {
	if v := c.Version(); v != nil {
		fmt.Fprintf(w, "gpsd:       %s (protocol %d.%d)\n", v.Release, v.ProtoMajor, v.ProtoMinor)
	}
	info, err := c.DeviceInfo()
	if err != nil {
		fmt.Fprintln(w, "Device:     none")
		return
	}
	fmt.Fprintf(w, "Device:     %s\n", info.Path)
	fmt.Fprintf(w, "Driver:     %s\n", info.Driver)
	fmt.Fprintf(w, "Speed:      %d bps\n", info.Speed)
	if n := len(c.Devices()); n > 1 {
		fmt.Fprintf(w, "Others:     %d more\n", n-1)
	}
}
