// Package apps maps Android application ids to user-facing names and launch
// links. The foreground app id reported by a device is an opaque package
// name; these tables turn it into the source/title text shown on the hub and
// classify the launcher and screensaver packages that should not be treated
// as playing media.
package apps

import "strings"

// homescreenApps are launcher packages. A device sitting on one of these is
// idle, not playing.
var homescreenApps = map[string]struct{}{
	"com.android.systemui":                {},
	"com.google.android.tvlauncher":       {},
	"com.google.android.apps.tv.launcherx": {},
	"com.spocky.projengmenu":              {}, // Projectivity Launcher
}

// standbyApps are screensaver/daydream packages shown while the device
// idles with the screen on.
var standbyApps = map[string]struct{}{
	"com.google.android.backdrop":      {},
	"com.google.android.apps.tv.dreamx": {},
}

// IsHomescreen reports whether the app id is a launcher package.
func IsHomescreen(appID string) bool {
	_, ok := homescreenApps[appID]
	return ok
}

// IsStandby reports whether the app id is a screensaver package.
func IsStandby(appID string) bool {
	_, ok := standbyApps[appID]
	return ok
}

// idNames maps exact application ids to friendly names.
var idNames = map[string]string{
	"com.google.android.backdrop":        "Backdrop Daydream",
	"com.google.android.apps.tv.dreamx":  "Backdrop Daydream",
	"com.google.android.katniss":         "Google app",
	"com.android.systemui":               "Android TV",
	"com.google.android.tvlauncher":      "Android TV",
	"com.google.android.apps.tv.launcherx": "Android TV",
	"com.google.android.gms":             "Google Play services",
	"com.android.vending":                "Google Play Store",
	"com.android.tv.settings":            "Settings",
	"com.spotify.tv.android":             "Spotify",
	"com.cbs.ca":                         "Paramount+",
	"com.apple.android.music":            "Apple Music",
	"com.apple.atve.androidtv.appletv":   "Apple TV",
	"net.init7.tv":                       "TV7",
	"com.zattoo.player":                  "Zattoo",
	"com.swisscom.tv2":                   "Swisscom blue TV",
	"ch.srgssr.playsuisse.tv":            "Play Suisse",
	"ch.srf.mobile.srfplayer":            "Play SRF",
	"com.nousguide.android.rbtv":         "Red Bull TV",
	"tv.arte.plus7":                      "ARTE",
	"com.google.android.videos":          "Google TV",
	"tv.wuaki":                           "Rakuten TV",
	"homedia.sky.sport":                  "SKY",
	"com.teamsmart.videomanager.tv":      "SmartTube",
	"com.nathnetwork.supersmart":         "SuperSmart",
	"nl.rtl.videoland.v2":                "Videoland",
	"com.disney.disneyplus":              "Disney+",
	"com.netflix.ninja":                  "Netflix",
	"org.jellyfin.androidtv":             "Jellyfin",
	"com.discovery.dplay":                "discovery+",
	"com.talpa.kijk":                     "KIJK",
	"nl.newfaithnetwork.app":             "New Faith Network",
	"nl.uitzendinggemist":                "NPO Start",
	"com.valvesoftware.steamlink":        "Steam Link",
	"org.videolan.vlc":                   "VLC",
	"com.ziggo.tv":                       "Ziggo GO TV",
	"com.hbo.hbonow":                     "HBO Max",
	"com.wbd.stream":                     "Max",
	"de.swr.avp.ard.tv":                  "ARD Mediathek",
	"com.zdf.android.mediathek":          "ZDF Mediathek",
	"de.exaring.waipu":                   "Waipu TV",
	"de.telekom.magentatv.tv":            "Magenta TV",
	"tv.pluto.android":                   "Pluto TV",
	"com.nvidia.ota":                     "System upgrade",
	"org.droidtv.playtv":                 "DVB-C/T/S",
	"ch.quickline.tv.uhd":                "Quickline TV",
}

// nameMatching maps app-id substrings to friendly names, tried after the
// exact table.
var nameMatching = map[string]string{
	"youtube":      "YouTube",
	"videomanager": "YouTube",
	"amazonvideo":  "Prime Video",
	"apple":        "Apple TV",
	"plex":         "Plex",
	"kodi":         "Kodi",
	"emby":         "Emby",
	"dune":         "Dune HD",
	"einsundeins":  "1und1 TV",
}

// FriendlyName resolves an application id to a display name. Exact id
// mappings win over substring matches; an unknown id is returned unchanged
// so the hub always has something to show.
func FriendlyName(appID string) string {
	if name, ok := idNames[appID]; ok {
		return name
	}

	lower := strings.ToLower(appID)
	for substr, name := range nameMatching {
		if strings.Contains(lower, substr) {
			return name
		}
	}
	return appID
}

// launchLinks maps friendly names to app launch links accepted by the
// device's remote service.
var launchLinks = map[string]string{
	"Youtube":           "https://www.youtube.com",
	"Prime Video":       "https://app.primevideo.com",
	"Plex":              "plex://",
	"Netflix":           "netflix://",
	"HBO Max":           "https://play.hbomax.com",
	"Max":               "https://play.max.com",
	"Emby":              "embyatv://tv.emby.embyatv/startapp",
	"Disney+":           "https://www.disneyplus.com",
	"Apple TV":          "https://tv.apple.com",
	"Spotify":           "spotify://",
	"Ziggo":             "ziggogo://",
	"Videoland":         "videoland-v2://",
	"Steam Link":        "steamlink://",
	"Waipu TV":          "waipu://tv",
	"Magenta TV":        "atv://de.telekom.magentatv",
	"Zattoo":            "zattoo://zattoo.com",
	"Pluto TV":          "https://pluto.tv/",
	"ARD Mediathek":     "https://www.ardmediathek.de/",
	"ZDF Mediathek":     "https://www.zdf.de/filme",
	"Kodi":              "market://launch?id=org.xbmc.kodi",
	"1und1":             "1und1tv://1und1.tv",
	"Arte":              "arte://display",
	"Google Play Store": "https://play.google.com/store/",
	"DVB-C/T/S":         "market://launch?id=org.droidtv.playtv",
	"ATV Inputs":        "market://launch?id=org.droidtv.channels",
	"ATV PlayFI":        "market://launch?id=com.phorus.playfi.tv",
	"ATV Now on TV":     "market://launch?id=org.droidtv.nettvrecommender",
	"ATV Media":         "market://launch?id=org.droidtv.contentexplorer",
	"ATV Browser":       "market://launch?id=com.vewd.core.browserui",
	"Quickline TV":      "market://launch?id=ch.quickline.tv.uhd",
	"myCANAL":           "market://launch?id=com.canal.android.canal",
}

// LaunchLink returns the launch link for a friendly app name.
func LaunchLink(name string) (string, bool) {
	link, ok := launchLinks[name]
	return link, ok
}

// Names returns the friendly names of all launchable apps, for the hub's
// source list. Order is unspecified.
func Names() []string {
	names := make([]string, 0, len(launchLinks))
	for name := range launchLinks {
		names = append(names, name)
	}
	return names
}
