package bms

// RecordReader is the read side of the store the scheduler needs.
type RecordReader interface {
	Get(code RequestCode) string
}

// Store holds the last validated record per request code plus the power
// status. It is owned by the acquisition loop; it is not safe for
// concurrent use.
type Store struct {
	records map[RequestCode]string
	power   PowerStatus
}

// NewStore returns a store with every record empty and the power unknown.
func NewStore() *Store {
	s := &Store{
		records: make(map[RequestCode]string, len(AllCodes)),
		power:   PowerUnknown,
	}
	s.Clear()
	return s
}

// Clear empties every record. The power status is left alone; callers set
// it right after.
func (s *Store) Clear() {
	for _, c := range AllCodes {
		s.records[c] = ""
	}
}

func (s *Store) Set(code RequestCode, payload string) { s.records[code] = payload }

func (s *Store) Get(code RequestCode) string { return s.records[code] }

func (s *Store) SetPower(p PowerStatus) { s.power = p }

func (s *Store) Power() PowerStatus { return s.power }

// State returns a copy of the store that stays valid after further updates.
func (s *Store) State() State {
	st := State{
		Records: make([]Record, 0, len(AllCodes)),
		Power:   s.power,
	}
	for _, c := range AllCodes {
		payload := s.records[c]
		if c == CodePower {
			payload = s.power.Code()
		}
		st.Records = append(st.Records, Record{Code: c, Payload: payload})
	}
	return st
}

// Record is one request code and its payload.
type Record struct {
	Code    RequestCode
	Payload string
}

// State is an immutable view of the store at one point in the loop.
// Records are in AllCodes order; the power record carries Power.Code().
type State struct {
	Records []Record
	Power   PowerStatus
}

// Get returns the payload for code, or "" if absent.
func (st State) Get(code RequestCode) string {
	for _, r := range st.Records {
		if r.Code == code {
			return r.Payload
		}
	}
	return ""
}

// Map returns the records keyed by their one-character code, restricted to
// codes when any are given.
func (st State) Map(codes ...RequestCode) map[string]string {
	if len(codes) == 0 {
		codes = AllCodes
	}
	m := make(map[string]string, len(codes))
	for _, c := range codes {
		m[c.String()] = st.Get(c)
	}
	return m
}
