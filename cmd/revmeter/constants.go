package main

// Defaults shared between config and flags. Keep DefaultConfig() aligned
// with these.
const (
	// defaultBankCapacity bounds one cycle's worth of events. 256 events
	// per cycle covers well over 100 mph at the default interval.
	defaultBankCapacity = 256

	// defaultCycleIntervalMS paces the switch/analyze/report loop.
	defaultCycleIntervalMS = 2000

	// defaultCircumferenceIn is a 700x25c road wheel.
	defaultCircumferenceIn = 82.6

	// defaultKeyCode is BTN_0, the usual code for a gpio-keys hall sensor.
	defaultKeyCode = 256

	defaultSerialBaudRate = 115200

	defaultMQTTTimeoutMS = 5000

	defaultIPCSocketPath = "/tmp/revmeter.sock"

	defaultStateWSAddr = ":3002"
	defaultStateWSPath = "/ws"

	defaultNTPServer = "pool.ntp.org"
)
