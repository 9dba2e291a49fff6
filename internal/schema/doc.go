// Package schema parses the declarative resource schema that drives the
// bridge.
//
// The schema is a comma-separated file with one resource per row:
//
//	# RESOURCE,METHOD,TYPE,NAME,ICON,STATE-CLASS|CURRENT-TEMP,DEVICE-CLASS|MAX-TEMP,UNIT
//	boiler_temp,get,sensor,Boiler temperature,mdi:thermometer,measurement,temperature,°C
//	boiler.temp,set,climate,Boiler setpoint,mdi:fire,boiler_temp,85,C
//	misc.start,set,switch,Burner,mdi:power,,,
//
// Parse validates structure only. Turning entries into bus entities is the
// job of the resource package.
package schema
