package config

import (
	"fmt"
	"os"
	"path/filepath"
)

const configTemplate = `# newstrace configuration

[database]
# SQLite database file (default: <config dir>/newstrace.db)
# path = ""

[logging]
# debug, info, warn, error
level = "info"
console = true
file = false
# file_path = ""
max_size = 100
max_backups = 7
max_age = 30

[tracking]
# Days a task stays open before it can be closed
duration_days = 7
# Parallel tasks processed per price update run
workers = 4

# Checkpoints after entry; alert_below is a fractional return (0 disables the alert)
[[tracking.checkpoints]]
offset = 1
alert_below = -0.03
alert_title = "T+1 drawdown warning"
alert_level = "warning"

[[tracking.checkpoints]]
offset = 3
alert_below = -0.05
alert_title = "T+3 severe drawdown"
alert_level = "critical"

[[tracking.checkpoints]]
offset = 7

[evolution]
enabled = true
# Minimum unconsumed T+3 samples before weights may change
min_samples = 30
sample_limit = 200
# Evolve when prediction accuracy drops below this ratio
accuracy_threshold = 0.55
score_threshold = 60.0
return_threshold = 0.01
# Step applied per cycle to clearly directional features
max_weight_change = 0.15
decay_factor = 0.9
min_feature_support = 5
up_threshold = 0.02
down_threshold = -0.02
# Weights are kept on the normalised scale
weight_min = -0.5
weight_max = 0.5
# Weekly forced refresh window
maintenance_weekday = "sunday"
maintenance_hour = 2

[price]
# "static" or "kite"
provider = "static"
default_exchange = "NSE"
requests_per_second = 3.0
burst = 1
# Use fallback_price when the provider fails instead of skipping the tick
fallback_enabled = false
fallback_price = 100.0
# Consecutive provider failures before lookups fail fast for breaker_cooldown
breaker_failures = 5
breaker_cooldown = "1m"

[price.static]
# RELIANCE = 2500.0

[price.kite]
api_key = ""
access_token = ""

[scheduler]
update_interval = "1h"
close_interval = "24h"
evolve_interval = "1h"
# "local" or "redis"
locker = "local"

[notifications]
enabled = true
# Minimum level delivered: info, warning, critical
level = "warning"
# Mirror alerts into the application log
log = true
# Delivery attempts per channel, with exponential backoff from retry_delay
retry_attempts = 3
retry_delay = "500ms"

[notifications.webhook]
enabled = false
url = ""

[notifications.telegram]
enabled = false
bot_token = ""
chat_id = ""

[notifications.email]
enabled = false
smtp_host = ""
smtp_port = 587
username = ""
password = ""
from = ""
to = ""

[metrics]
enabled = true
addr = ":9464"

[redis]
addr = "localhost:6379"
password = ""
db = 0
prefix = "newstrace"
`

func createTemplateConfig(configDir string) error {
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	path := filepath.Join(configDir, "config.toml")
	if err := os.WriteFile(path, []byte(configTemplate), 0644); err != nil {
		return fmt.Errorf("writing config template: %w", err)
	}

	return nil
}
