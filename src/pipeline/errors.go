package pipeline

import "errors"

var (
	errIllegalTransition = errors.New("illegal state transition")
	errNoTTSShape        = errors.New("tts provider supports neither streaming nor duplex audio")
)
