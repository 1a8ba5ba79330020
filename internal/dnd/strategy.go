package dnd

import "fmt"

const controlCenterScript = `tell application "System Events"
	try
		tell process "ControlCenter"
			set frontmost to true
			click menu bar item "Control Center" of menu bar 1
			delay 0.3
			click checkbox "Do Not Disturb" of group 1 of window "Control Center"
		end tell
		return true
	on error
		return false
	end try
end tell`

const windowsToastsScript = `$path = 'HKCU:\Software\Microsoft\Windows\CurrentVersion\Notifications\Settings'
if (!(Test-Path $path)) { New-Item -Path $path -Force | Out-Null }
Set-ItemProperty -Path $path -Name 'NOC_GLOBAL_SETTING_TOASTS_ENABLED' -Value %d -Type DWord -Force
Set-ItemProperty -Path $path -Name 'NOC_GLOBAL_SETTING_ALLOW_NOTIFICATION_SOUND' -Value %d -Type DWord -Force`

// StrategyFor returns the notification toggles for goos.
func StrategyFor(goos string) Strategy {
	switch goos {
	case "linux":
		return Strategy{
			Enable: []Method{
				{{Name: "gsettings", Args: []string{"set", "org.gnome.desktop.notifications", "show-banners", "false"}}},
				{{Name: "qdbus", Args: []string{"org.freedesktop.Notifications", "/org/freedesktop/Notifications",
					"org.freedesktop.Notifications.Inhibit", "FocusNote"}}},
			},
			Disable: []Method{
				{{Name: "gsettings", Args: []string{"set", "org.gnome.desktop.notifications", "show-banners", "true"}}},
			},
			DisableAlwaysSucceeds: true,
		}
	case "darwin":
		return Strategy{
			Enable: []Method{
				{{Name: "osascript", Args: []string{"-e", controlCenterScript}, Expect: "true"}},
				{
					{Name: "defaults", Args: []string{"write", "com.apple.notificationcenterui", "doNotDisturb", "-bool", "true"}},
					{Name: "killall", Args: []string{"NotificationCenter"}},
				},
			},
			Disable: []Method{
				{{Name: "osascript", Args: []string{"-e", controlCenterScript}, Expect: "true"}},
				{
					{Name: "defaults", Args: []string{"write", "com.apple.notificationcenterui", "doNotDisturb", "-bool", "false"}},
					{Name: "killall", Args: []string{"NotificationCenter"}},
				},
			},
		}
	case "windows":
		return Strategy{
			Enable:  []Method{{powershell(windowsToasts(0))}},
			Disable: []Method{{powershell(windowsToasts(1))}},
		}
	default:
		return Strategy{}
	}
}

func powershell(script string) Command {
	return Command{Name: "powershell", Args: []string{"-NoProfile", "-ExecutionPolicy", "Bypass", "-Command", script}}
}

func windowsToasts(v int) string {
	return fmt.Sprintf(windowsToastsScript, v, v)
}
