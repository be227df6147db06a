package apps

import "testing"

func TestFriendlyName(t *testing.T) {
	tests := []struct {
		name  string
		appID string
		want  string
	}{
		{
			name:  "exact id mapping",
			appID: "com.netflix.ninja",
			want:  "Netflix",
		},
		{
			name:  "exact wins over substring",
			appID: "com.teamsmart.videomanager.tv",
			want:  "SmartTube",
		},
		{
			name:  "substring match",
			appID: "com.google.android.youtube.tv",
			want:  "YouTube",
		},
		{
			name:  "substring match is case-insensitive",
			appID: "com.amazon.AmazonVideo.livingroom",
			want:  "Prime Video",
		},
		{
			name:  "unknown id returned unchanged",
			appID: "com.example.obscure",
			want:  "com.example.obscure",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FriendlyName(tt.appID); got != tt.want {
				t.Errorf("FriendlyName(%q) = %q, want %q", tt.appID, got, tt.want)
			}
		})
	}
}

func TestIsHomescreen(t *testing.T) {
	if !IsHomescreen("com.google.android.tvlauncher") {
		t.Error("tvlauncher should be a homescreen app")
	}
	if IsHomescreen("com.netflix.ninja") {
		t.Error("Netflix is not a homescreen app")
	}
}

func TestIsStandby(t *testing.T) {
	if !IsStandby("com.google.android.backdrop") {
		t.Error("backdrop should be a standby app")
	}
	if IsStandby("com.google.android.tvlauncher") {
		t.Error("the launcher is not a standby app")
	}
}

func TestClassifiedAppsHaveNames(t *testing.T) {
	// Every launcher/screensaver package must resolve to a friendly name,
	// not fall through to the raw package id.
	for appID := range homescreenApps {
		if appID == "com.spocky.projengmenu" {
			continue // third-party launcher, surfaced by id
		}
		if FriendlyName(appID) == appID {
			t.Errorf("homescreen app %q has no friendly name", appID)
		}
	}
	for appID := range standbyApps {
		if FriendlyName(appID) == appID {
			t.Errorf("standby app %q has no friendly name", appID)
		}
	}
}

func TestLaunchLink(t *testing.T) {
	link, ok := LaunchLink("Netflix")
	if !ok || link != "netflix://" {
		t.Errorf("LaunchLink(Netflix) = %q, %v", link, ok)
	}
	if _, ok := LaunchLink("Unknown App"); ok {
		t.Error("LaunchLink() = ok for unknown app")
	}
}

func TestNames(t *testing.T) {
	names := Names()
	if len(names) == 0 {
		t.Fatal("Names() returned nothing")
	}
	seen := make(map[string]bool, len(names))
	for _, n := range names {
		if seen[n] {
			t.Errorf("duplicate name %q", n)
		}
		seen[n] = true
	}
	if !seen["Netflix"] {
		t.Error("Names() missing Netflix")
	}
}
