// Loads engine configuration from a YAML file.
//
// Configuration covers registry mirrors and pull restrictions, the upgrade
// retry policy, and the deployment retention policy. Every field has a
// default, so a missing or partial config file is valid.
package settings
