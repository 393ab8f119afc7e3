package field

// Comm combines per-process partial reductions. Every norm and dot
// product that is not requested as local passes through it, so it is the
// global synchronization point of a reduction.
type Comm interface {
	AllReduceMax(v float64) float64
	AllReduceSum(v float64) float64
}

// SerialComm is the single-process Comm
type SerialComm struct{}

func (SerialComm) AllReduceMax(v float64) float64 { return v }
func (SerialComm) AllReduceSum(v float64) float64 { return v }
