package profile

// DefaultManufacturer marks a profile file that replaces the built-in
// default profile instead of joining the match order.
const DefaultManufacturer = "default"

// fallbackCommands maps hub command names to keycodes for commands every
// Android TV understands. It is consulted when the resolved profile has
// no explicit mapping, so profiles only need to declare the commands
// their device family handles differently.
var fallbackCommands = map[string]Command{
	"ON":            {Keycode: "KEYCODE_POWER"},
	"OFF":           {Keycode: "KEYCODE_POWER"},
	"TOGGLE":        {Keycode: "KEYCODE_POWER"},
	"PLAY_PAUSE":    {Keycode: "KEYCODE_MEDIA_PLAY_PAUSE"},
	"STOP":          {Keycode: "KEYCODE_MEDIA_STOP"},
	"NEXT":          {Keycode: "KEYCODE_MEDIA_NEXT"},
	"PREVIOUS":      {Keycode: "KEYCODE_MEDIA_PREVIOUS"},
	"FAST_FORWARD":  {Keycode: "KEYCODE_MEDIA_FAST_FORWARD"},
	"REWIND":        {Keycode: "KEYCODE_MEDIA_REWIND"},
	"RECORD":        {Keycode: "KEYCODE_MEDIA_RECORD"},
	"VOLUME_UP":     {Keycode: "KEYCODE_VOLUME_UP"},
	"VOLUME_DOWN":   {Keycode: "KEYCODE_VOLUME_DOWN"},
	"MUTE_TOGGLE":   {Keycode: "KEYCODE_VOLUME_MUTE"},
	"CHANNEL_UP":    {Keycode: "KEYCODE_CHANNEL_UP"},
	"CHANNEL_DOWN":  {Keycode: "KEYCODE_CHANNEL_DOWN"},
	"CURSOR_UP":     {Keycode: "KEYCODE_DPAD_UP"},
	"CURSOR_DOWN":   {Keycode: "KEYCODE_DPAD_DOWN"},
	"CURSOR_LEFT":   {Keycode: "KEYCODE_DPAD_LEFT"},
	"CURSOR_RIGHT":  {Keycode: "KEYCODE_DPAD_RIGHT"},
	"CURSOR_ENTER":  {Keycode: "KEYCODE_DPAD_CENTER"},
	"BACK":          {Keycode: "KEYCODE_BACK"},
	"HOME":          {Keycode: "KEYCODE_HOME"},
	"MENU":          {Keycode: "KEYCODE_MENU"},
	"GUIDE":         {Keycode: "KEYCODE_GUIDE"},
	"INFO":          {Keycode: "KEYCODE_INFO"},
	"SETTINGS":      {Keycode: "KEYCODE_SETTINGS"},
	"SEARCH":        {Keycode: "KEYCODE_SEARCH"},
	"INPUT_SOURCE":  {Keycode: "KEYCODE_TV_INPUT"},
	"DIGIT_0":       {Keycode: "KEYCODE_0"},
	"DIGIT_1":       {Keycode: "KEYCODE_1"},
	"DIGIT_2":       {Keycode: "KEYCODE_2"},
	"DIGIT_3":       {Keycode: "KEYCODE_3"},
	"DIGIT_4":       {Keycode: "KEYCODE_4"},
	"DIGIT_5":       {Keycode: "KEYCODE_5"},
	"DIGIT_6":       {Keycode: "KEYCODE_6"},
	"DIGIT_7":       {Keycode: "KEYCODE_7"},
	"DIGIT_8":       {Keycode: "KEYCODE_8"},
	"DIGIT_9":       {Keycode: "KEYCODE_9"},
	"FUNCTION_RED":    {Keycode: "KEYCODE_PROG_RED"},
	"FUNCTION_GREEN":  {Keycode: "KEYCODE_PROG_GREEN"},
	"FUNCTION_YELLOW": {Keycode: "KEYCODE_PROG_YELLOW"},
	"FUNCTION_BLUE":   {Keycode: "KEYCODE_PROG_BLUE"},
}

// defaultProfile is the last-resort profile: empty prefixes match every
// device, and an empty command map defers everything to the fallbacks.
func defaultProfile() *Profile {
	return &Profile{
		Name:         "default",
		Manufacturer: "",
		Model:        "",
		Features:     []string{"volume_control"},
		Commands:     map[string]Command{},
	}
}
