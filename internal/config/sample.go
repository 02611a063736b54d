package config

// Sample is the annotated configuration written by "yudai init".
const Sample = `# yudai run configuration

[agent]
step_limit = 0      # 0 = unlimited
cost_limit = 3.0    # dollars, 0 = unlimited
# system_template and instance_template override the built-in prompts.

[model]
class = "openai"    # openai | openai_text | responses | scripted | roulette | interleaving
model_name = "anthropic/claude-sonnet-4"
base_url = "https://openrouter.ai/api/v1"
api_key_env = "OPENROUTER_API_KEY"
cost_tracking = "default"   # or "ignore_errors" for free and local models

[model.model_kwargs]
temperature = 0.0

[model.retry]
attempts = 10
initial_interval = "4s"
max_interval = "60s"

[environment]
class = "local"     # local | docker | foundry | sandbox
timeout = 30        # seconds per command

[output]
trajectory_path = ".yudai/trajectories/{{.run_id}}.traj.json"
store = ".yudai/runs.db"
`
