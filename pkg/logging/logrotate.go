package logging

import "fmt"

// GenerateLogrotateConfig creates a logrotate configuration for a component
func GenerateLogrotateConfig(component string) string {
	return fmt.Sprintf(`# Logrotate configuration for msearch %s
# Install: sudo cp this file to /etc/logrotate.d/msearch-%s

%s/%s/*.log {
    daily
    rotate 14
    compress
    delaycompress
    missingok
    notifempty
    create 0644 msearch msearch
    sharedscripts
    postrotate
        systemctl reload msearch-%s 2>/dev/null || true
    endscript
}
`, component, component, SystemLogRoot, component, component)
}
