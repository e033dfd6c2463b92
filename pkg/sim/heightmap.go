package sim

import (
	"math"
	"sync"

	"github.com/pkg/errors"

	"github.com/robotalks/sbclink/pkg/sbc/msgs"
)

// Bed is the probing area of the simulated machine.
type Bed struct {
	XMin, XMax, YMin, YMax float32
	Spacing                float32
	// Tilt is the z rise in mm per mm along x and y.
	TiltX, TiltY float32
}

// DefaultBed is a 200x100 bed probed every 50mm, a 5x3 grid.
var DefaultBed = Bed{XMax: 200, YMax: 100, Spacing: 50, TiltX: 0.001, TiltY: -0.0005}

// HeightMapStore keeps the height map in memory.
type HeightMapStore struct {
	lock sync.Mutex
	m    *msgs.HeightMap
}

func copyHeightMap(m *msgs.HeightMap) *msgs.HeightMap {
	c := *m
	c.Z = append([]float32(nil), m.Z...)
	return &c
}

// Get implements dispatch.HeightMapStore. An empty map is returned before
// any is set or probed.
func (s *HeightMapStore) Get() (*msgs.HeightMap, error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.m == nil {
		return &msgs.HeightMap{}, nil
	}
	return copyHeightMap(s.m), nil
}

// Set implements dispatch.HeightMapStore.
func (s *HeightMapStore) Set(m *msgs.HeightMap) error {
	if err := m.Validate(); err != nil {
		return err
	}
	s.lock.Lock()
	defer s.lock.Unlock()
	s.m = copyHeightMap(m)
	return nil
}

// Probe generates the height map of the bed.
func (s *HeightMapStore) Probe(bed Bed) (*msgs.HeightMap, error) {
	if bed.Spacing <= 0 || bed.XMax < bed.XMin || bed.YMax < bed.YMin {
		return nil, errors.Errorf("invalid probing area %+v", bed)
	}
	m := &msgs.HeightMap{
		XMin:     bed.XMin,
		XMax:     bed.XMax,
		XSpacing: bed.Spacing,
		YMin:     bed.YMin,
		YMax:     bed.YMax,
		YSpacing: bed.Spacing,
		NumX:     uint16(math.Floor(float64((bed.XMax-bed.XMin)/bed.Spacing))) + 1,
		NumY:     uint16(math.Floor(float64((bed.YMax-bed.YMin)/bed.Spacing))) + 1,
	}
	m.Z = make([]float32, int(m.NumX)*int(m.NumY))
	for y := 0; y < int(m.NumY); y++ {
		for x := 0; x < int(m.NumX); x++ {
			m.Z[y*int(m.NumX)+x] = float32(x)*bed.Spacing*bed.TiltX + float32(y)*bed.Spacing*bed.TiltY
		}
	}
	if err := s.Set(m); err != nil {
		return nil, err
	}
	return m, nil
}
