package config

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"discord_ai_cogs/entities"
)

type guildSeedFile struct {
	Guilds map[string]yaml.Node `yaml:"guilds"`
}

// LoadGuildSeeds reads per-guild overrides from a yaml file of the form
//
//	guilds:
//	  "1234":
//	    endpoint: http://localhost:7860/sdapi/v1
//	    nsfw: false
//
// Keys missing for a guild keep the value from defaults.
func LoadGuildSeeds(path string, defaults *entities.GuildSettings) ([]*entities.GuildSettings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var file guildSeedFile

	err = yaml.Unmarshal(data, &file)
	if err != nil {
		return nil, fmt.Errorf("parsing guild seeds: %w", err)
	}

	seeds := make([]*entities.GuildSettings, 0, len(file.Guilds))

	for guildID, node := range file.Guilds {
		settings := defaults.Clone()
		if settings == nil {
			settings = &entities.GuildSettings{}
		}

		err = node.Decode(settings)
		if err != nil {
			return nil, fmt.Errorf("decoding settings of guild %s: %w", guildID, err)
		}

		settings.GuildID = guildID
		seeds = append(seeds, settings)
	}

	sort.Slice(seeds, func(i, j int) bool {
		return seeds[i].GuildID < seeds[j].GuildID
	})

	return seeds, nil
}
