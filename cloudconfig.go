package projcal

import (
	"context"
	"fmt"
	"os"
	"strings"

	"go.viam.com/rdk/app"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/resource"
	"go.viam.com/rdk/utils"
)

type fragmentGetter func(ctx context.Context, id, version string) (*app.Fragment, error)

// UpdateComponentCloudAttributesFromModuleEnv replaces the attributes of a resource in the
// cloud config of the part this module runs on.
func UpdateComponentCloudAttributesFromModuleEnv(ctx context.Context, name resource.Name, newAttr utils.AttributeMap, logger logging.Logger) error {
	id := os.Getenv(utils.MachinePartIDEnvVar)
	if id == "" {
		return fmt.Errorf("no %s in env", utils.MachinePartIDEnvVar)
	}

	c, err := app.CreateViamClientFromEnvVars(ctx, nil, logger)
	if err != nil {
		return err
	}
	defer c.Close()

	return UpdateComponentCloudAttributes(ctx, c.AppClient(), id, name, newAttr)
}

func UpdateComponentCloudAttributes(ctx context.Context, c *app.AppClient, partID string, name resource.Name, newAttr utils.AttributeMap) error {
	part, _, err := c.GetRobotPart(ctx, partID)
	if err != nil {
		return err
	}

	if err := setAttributesInPlace(ctx, part.RobotConfig, c.GetFragment, name, newAttr); err != nil {
		return err
	}

	_, err = c.UpdateRobotPart(ctx, partID, part.Name, part.RobotConfig)
	return err
}

// setAttributesInPlace edits the part config directly when the resource is defined there,
// otherwise adds a fragment mod for the fragment that defines it.
func setAttributesInPlace(ctx context.Context, robotConfig map[string]interface{}, getFragment fragmentGetter, name resource.Name, newAttr utils.AttributeMap) error {
	found, err := setResourceAttributes(robotConfig, name, newAttr)
	if err != nil || found {
		return err
	}

	fragments, _ := robotConfig["fragments"].([]interface{})
	for _, frag := range fragments {
		id, version, err := fragmentRef(frag)
		if err != nil {
			return err
		}
		path, err := findInFragment(ctx, getFragment, id, version, name)
		if err != nil {
			return err
		}
		if path != "" {
			return setFragmentMod(robotConfig, id, path, fragmentSet(path, newAttr))
		}
	}

	return fmt.Errorf("didn't find resource with name %v", name.ShortName())
}

func setResourceAttributes(robotConfig map[string]interface{}, name resource.Name, newAttr utils.AttributeMap) (bool, error) {
	found := false
	for _, section := range []string{"components", "services"} {
		list, _ := robotConfig[section].([]interface{})
		for idx, r := range list {
			rc, ok := r.(map[string]interface{})
			if !ok {
				return false, fmt.Errorf("%s config bad %d: %T", section, idx, r)
			}
			if rc["name"] != name.ShortName() {
				continue
			}
			rc["attributes"] = newAttr
			found = true
		}
	}
	return found, nil
}

// setFragmentMod replaces the mod that sets path, or adds one, in the fragment_mods entry for id.
func setFragmentMod(robotConfig map[string]interface{}, id, path string, mod map[string]interface{}) error {
	fragMods, _ := robotConfig["fragment_mods"].([]interface{})
	for _, fm := range fragMods {
		fmc, ok := fm.(map[string]interface{})
		if !ok {
			return fmt.Errorf("fragment mod config bad for fragment %v: %T", id, fm)
		}
		if fmc["fragment_id"] != id {
			continue
		}

		mods, _ := fmc["mods"].([]interface{})
		for idx, m := range mods {
			mc, _ := m.(map[string]interface{})
			sets, _ := mc["$set"].(map[string]interface{})
			for k := range sets {
				if strings.HasPrefix(k, path) {
					mods[idx] = mod
					return nil
				}
			}
		}
		fmc["mods"] = append(mods, mod)
		return nil
	}

	robotConfig["fragment_mods"] = append(fragMods, map[string]interface{}{
		"fragment_id": id,
		"mods":        []interface{}{mod},
	})
	return nil
}

func fragmentSet(path string, newAttr utils.AttributeMap) map[string]interface{} {
	set := map[string]interface{}{}
	for k, v := range newAttr {
		set[path+"."+k] = v
	}
	return map[string]interface{}{"$set": set}
}

// fragmentRef reads a fragment entry, which is either a bare id or a map with id and version.
func fragmentRef(frag interface{}) (string, string, error) {
	if id, ok := frag.(string); ok {
		return id, "", nil
	}
	fc, ok := frag.(map[string]interface{})
	if !ok {
		return "", "", fmt.Errorf("fragment config does not match expected interface: %T", frag)
	}
	id, ok := fc["id"].(string)
	if !ok {
		return "", "", fmt.Errorf("fragment is missing an id: %v", frag)
	}
	version, _ := fc["version"].(string)
	return id, version, nil
}

// findInFragment returns the mod path of the resource's attributes if the fragment, or a
// fragment it includes, defines it, and "" otherwise.
func findInFragment(ctx context.Context, getFragment fragmentGetter, id, version string, name resource.Name) (string, error) {
	frag, err := getFragment(ctx, id, version)
	if err != nil {
		return "", err
	}

	for _, section := range []string{"components", "services"} {
		list, _ := frag.Fragment[section].([]interface{})
		for idx, r := range list {
			rc, ok := r.(map[string]interface{})
			if !ok {
				return "", fmt.Errorf("fragment %s %s config bad %d: %T", id, section, idx, r)
			}
			if rc["name"] == name.ShortName() {
				return fmt.Sprintf("%s.%s.attributes", section, name.ShortName()), nil
			}
		}
	}

	nested, _ := frag.Fragment["fragments"].([]interface{})
	for _, fc := range nested {
		nestedID, nestedVersion, err := fragmentRef(fc)
		if err != nil {
			return "", err
		}
		path, err := findInFragment(ctx, getFragment, nestedID, nestedVersion, name)
		if err != nil || path != "" {
			return path, err
		}
	}
	return "", nil
}
