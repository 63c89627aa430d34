package bms

// CycleState is the scheduler's memory between cycles.
type CycleState struct {
	LastRequested  RequestCode
	VariablesTurn  bool // next alternating slot goes to the variables
	SecondaryIndex int  // next entry of SecondaryCodes
}

// NewCycleState returns the state for a fresh boot.
func NewCycleState() CycleState {
	return CycleState{VariablesTurn: true}
}

// SelectNextCode picks the code to request this cycle and returns the
// advanced state.
//
// Constants and settings are fetched once per boot, until they first parse.
// After that the variables alternate with a round-robin over SecondaryCodes.
// The round-robin advances whenever a secondary code is picked, whether or
// not the previous request succeeded.
func SelectNextCode(r RecordReader, st CycleState) (RequestCode, CycleState) {
	var code RequestCode
	switch {
	case r.Get(CodeConstants) == "":
		code = CodeConstants
	case r.Get(CodeSettings) == "":
		code = CodeSettings
	case st.VariablesTurn:
		code = CodeVariables
		st.VariablesTurn = false
	default:
		idx := st.SecondaryIndex % len(SecondaryCodes)
		if idx < 0 {
			idx += len(SecondaryCodes)
		}
		code = SecondaryCodes[idx]
		st.SecondaryIndex = (idx + 1) % len(SecondaryCodes)
		st.VariablesTurn = true
	}
	st.LastRequested = code
	return code, st
}
